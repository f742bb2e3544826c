package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chenz/idxscan/ignore"
	"github.com/chenz/idxscan/search"
	"github.com/chenz/idxscan/store"
)

// repeatedFlag is a repeatable CLI flag for glob patterns.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ", ") }
func (r *repeatedFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func main() {
	args := os.Args[1:]
	command := "scan"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "scan":
		runScan(args)
	case "search":
		runSearch(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q (expected \"scan\" or \"search\")\n", command)
		os.Exit(2)
	}
}

func runScan(args []string) {
	flags := flag.NewFlagSet("scan", flag.ExitOnError)
	var rootDir string
	var dbPath string
	var workers int
	var refreshMIME bool
	var thumbnails bool
	var collectXattrs bool
	var logLevel string
	var logFile string
	var includes repeatedFlag
	var excludes repeatedFlag

	flags.StringVar(&rootDir, "root", "", "Scan root directory (default: current working directory)")
	flags.StringVar(&dbPath, "db", "idxscan.db", "Catalog database path")
	flags.IntVar(&workers, "workers", 1, "Concurrent record processors (1 = sequential pass)")
	flags.BoolVar(&refreshMIME, "refresh-mime", true, "Re-classify MIME and thumbnails for already known content")
	flags.BoolVar(&thumbnails, "thumbnails", true, "Generate thumbnails for image content")
	flags.BoolVar(&collectXattrs, "xattrs", true, "Collect user extended attributes")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	flags.Var(&includes, "include", "Only catalog files matching this glob (repeatable)")
	flags.Var(&excludes, "exclude", "Skip paths matching this glob (repeatable)")
	flags.Parse(args)

	if rootDir == "" {
		var err error
		rootDir, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
	}
	rootDir, _ = filepath.Abs(rootDir)
	dbPath, _ = filepath.Abs(dbPath)

	logger := setupLogger(logLevel, logFile)
	logger.Info("starting scan",
		"root", rootDir,
		"db", dbPath,
		"workers", workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open catalog store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	matcher := ignore.NewMatcher(ignore.MatcherOptions{
		RootDir:   rootDir,
		Includes:  includes,
		Excludes:  excludes,
		SelfPaths: []string{dbPath, searchIndexPath(dbPath)},
	})

	startTime := time.Now()
	summary, err := performScan(ctx, st, matcher, ScanOptions{
		Root:        rootDir,
		Workers:     workers,
		RefreshMIME: refreshMIME,
		Thumbnails:  thumbnails,
		Xattrs:      collectXattrs,
	}, logger)
	if err != nil {
		logger.Error("scan interrupted", "error", err)
	}

	logger.Info("scan complete",
		"paths", summary.Seen,
		"created", summary.Created,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"hashed", summary.Hashed,
		"errors", summary.Errors,
		"duration", time.Since(startTime).Round(time.Millisecond),
	)
	if err != nil {
		os.Exit(1)
	}
}

func runSearch(args []string) {
	flags := flag.NewFlagSet("search", flag.ExitOnError)
	var dbPath string
	var indexPath string
	var rebuild bool
	var glob string
	var sha256Hex string
	var maxResults int
	var logLevel string

	flags.StringVar(&dbPath, "db", "idxscan.db", "Catalog database path")
	flags.StringVar(&indexPath, "index", "", "Search index path (default: <db>.bleve)")
	flags.BoolVar(&rebuild, "rebuild", false, "Rebuild the search index from the catalog first")
	flags.StringVar(&glob, "glob", "", "Filter results by doublestar glob")
	flags.StringVar(&sha256Hex, "sha256", "", "Look up content records and their paths by digest")
	flags.IntVar(&maxResults, "max-results", 50, "Maximum results to print")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")
	flags.Parse(args)

	logger := setupLogger(logLevel, "")
	dbPath, _ = filepath.Abs(dbPath)
	if indexPath == "" {
		indexPath = searchIndexPath(dbPath)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open catalog store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if sha256Hex != "" {
		if err := printByDigest(ctx, st, sha256Hex); err != nil {
			logger.Error("digest lookup failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ix, err := search.Open(indexPath)
	if err != nil {
		logger.Error("failed to open search index", "error", err)
		os.Exit(1)
	}
	defer ix.Close()

	if rebuild {
		count, err := ix.Rebuild(ctx, st)
		if err != nil {
			logger.Error("rebuild failed", "error", err)
			os.Exit(1)
		}
		logger.Info("search index rebuilt", "documents", count)
	}

	query := strings.Join(flags.Args(), " ")
	if query == "" && glob == "" && !rebuild {
		fmt.Fprintln(os.Stderr, "Nothing to do: give a query, -glob, or -rebuild")
		os.Exit(2)
	}
	if query == "" && glob == "" {
		return
	}

	results, err := ix.Search(search.Options{Query: query, Glob: glob, MaxResults: maxResults})
	if err != nil {
		logger.Error("search failed", "error", err)
		os.Exit(1)
	}
	for _, result := range results {
		if result.SHA256 != "" {
			fmt.Printf("%s\t%d\t%s\t%s\n", result.Path, result.Size, result.MIME, result.SHA256)
		} else {
			fmt.Printf("%s\t%d\t%s\n", result.Path, result.Size, result.MIME)
		}
	}
}

// printByDigest resolves content records through the secondary digest index
// and lists every path referencing each.
func printByDigest(ctx context.Context, st *store.Store, sha256Hex string) error {
	records, err := st.ContentsByDigest(ctx, sha256Hex)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no content record for digest")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("content %d: size=%d mime=%s crc32=%s\n", rec.ID, rec.Size, rec.MIME, rec.CRC32)
		paths, err := st.PathsByContent(ctx, rec.ID)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

// searchIndexPath is where the bleve index for a catalog database lives.
func searchIndexPath(dbPath string) string {
	return dbPath + ".bleve"
}

// setupLogger creates an slog.Logger writing to stderr or a file.
func setupLogger(level string, logFile string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writer *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v, falling back to stderr\n", logFile, err)
			writer = os.Stderr
		} else {
			writer = f
		}
	} else {
		writer = os.Stderr
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
