package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chenz/idxscan/classify"
	"github.com/chenz/idxscan/digest"
	"github.com/chenz/idxscan/ignore"
	"github.com/chenz/idxscan/snapshot"
	"github.com/chenz/idxscan/store"
	"github.com/chenz/idxscan/thumbnail"
	"github.com/chenz/idxscan/walk"
	xattrs "github.com/chenz/idxscan/xattr"
)

// progressEvery is how many visited paths pass between progress log lines.
const progressEvery = 1000

// ScanOptions configures one catalog pass.
type ScanOptions struct {
	Root string
	// Workers is the number of concurrent record processors. One worker
	// reproduces the strictly sequential pass; correctness with more rests
	// solely on the store's unique constraints.
	Workers int
	// RefreshMIME re-classifies (and re-thumbnails) content that already has
	// a record. Off, descriptive fields are written only on first sight.
	RefreshMIME bool
	Thumbnails  bool
	Xattrs      bool
	// Classify is the MIME capability; nil means the built-in detector.
	Classify classify.Func
}

// ScanStats counts outcomes across workers.
type ScanStats struct {
	seen      atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	unchanged atomic.Int64
	hashed    atomic.Int64
	errors    atomic.Int64
}

// ScanSummary is the final tally of one pass.
type ScanSummary struct {
	Seen      int64
	Created   int64
	Updated   int64
	Unchanged int64
	Hashed    int64
	Errors    int64
}

func (s *ScanStats) summary() ScanSummary {
	return ScanSummary{
		Seen:      s.seen.Load(),
		Created:   s.created.Load(),
		Updated:   s.updated.Load(),
		Unchanged: s.unchanged.Load(),
		Hashed:    s.hashed.Load(),
		Errors:    s.errors.Load(),
	}
}

// performScan drives the pipeline: traversal feeds paths through the filter
// into the worker pool, each worker runs the change-detection and content
// identification steps against the shared store. The scan keeps going across
// per-node failures; only cancellation stops it.
func performScan(
	ctx context.Context,
	st *store.Store,
	matcher *ignore.Matcher,
	options ScanOptions,
	logger *slog.Logger,
) (ScanSummary, error) {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.Classify == nil {
		options.Classify = classify.Detect
	}

	var stats ScanStats
	jobs := make(chan string, 100)

	var wg sync.WaitGroup
	for i := 0; i < options.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := processPath(ctx, st, path, options, logger, &stats); err != nil {
					stats.errors.Add(1)
					logger.Error("record processing halted", "path", path, "error", err)
				}
			}
		}()
	}

	walkErr := walk.Walk(ctx, options.Root, func(path string) error {
		info, err := os.Lstat(path)
		isDir := err == nil && info.IsDir()

		if matcher.Excluded(path, isDir) {
			if isDir {
				return walk.SkipDir
			}
			return nil
		}
		if !matcher.Included(path, isDir) {
			return nil
		}

		if seen := stats.seen.Add(1); seen%progressEvery == 0 {
			logger.Info("scan progress", "paths", seen)
		}

		select {
		case jobs <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	close(jobs)
	wg.Wait()
	return stats.summary(), walkErr
}

// processPath applies the create-or-load protocol to one node. A storage
// consistency violation aborts this record only; the caller logs it and the
// scan continues elsewhere.
func processPath(
	ctx context.Context,
	st *store.Store,
	path string,
	options ScanOptions,
	logger *slog.Logger,
	stats *ScanStats,
) error {
	meta, err := snapshot.Capture(path)
	if err != nil {
		// Vanished between discovery and inspection.
		logger.Debug("node disappeared before capture", "path", path, "error", err)
		return nil
	}

	rec, created, err := st.CreateOrLoadPath(ctx, path, meta)
	if err != nil {
		return fmt.Errorf("create-or-load path: %w", err)
	}

	dirty := false
	if created {
		stats.created.Add(1)
		logger.Debug("new path", "path", path)
	} else if rec.Meta.Equal(meta) {
		// The core performance invariant: an unchanged path writes nothing.
		stats.unchanged.Add(1)
		return nil
	} else {
		dirty = true
		if err := st.UpdatePathMeta(ctx, rec.ID, meta); err != nil {
			return fmt.Errorf("update path snapshot: %w", err)
		}
		stats.updated.Add(1)
		logger.Debug("updated path", "path", path)
	}

	if options.Xattrs {
		for name, value := range xattrs.List(path) {
			if err := st.UpsertXattr(ctx, rec.ID, name, value); err != nil {
				logger.Warn("xattr not stored", "path", path, "name", name, "error", err)
			}
		}
	}

	if meta.IsRegular && !meta.IsDir {
		return identifyContent(ctx, st, rec.ID, path, options, logger, stats)
	}
	if dirty {
		// Kind transition: a node that stopped being a regular file must not
		// keep pointing at content.
		if err := st.ClearPathContent(ctx, rec.ID); err != nil {
			return fmt.Errorf("clear content reference: %w", err)
		}
	}
	return nil
}

// identifyContent hashes the file, resolves its content identity through the
// store, refreshes descriptive fields when asked, and back-references the
// content record from the path record.
func identifyContent(
	ctx context.Context,
	st *store.Store,
	pathID int64,
	path string,
	options ScanOptions,
	logger *slog.Logger,
	stats *ScanStats,
) error {
	sums, err := digest.SumFile(path)
	if err != nil {
		// Silent loss of dedup linkage is the known failure mode of the naive
		// design; surface it and leave an explicit marker on the record.
		logger.Warn("content identification abandoned", "path", path, "error", err)
		if serr := st.SetPathContentError(ctx, pathID, err.Error()); serr != nil {
			return fmt.Errorf("record content failure: %w", serr)
		}
		return nil
	}

	content, contentCreated, err := st.CreateOrLoadContent(ctx, sums)
	if err != nil {
		return fmt.Errorf("create-or-load content: %w", err)
	}
	stats.hashed.Add(1)
	if !contentCreated {
		logger.Debug("content deduplicated", "path", path, "sha256", sums.SHA256)
	}

	if contentCreated || options.RefreshMIME {
		mime := options.Classify(path)
		thumbMIME := ""
		var thumb []byte
		if options.Thumbnails && thumbnail.Eligible(mime, sums.Size) {
			if data, tm, terr := thumbnail.Generate(path); terr == nil {
				thumb, thumbMIME = data, tm
			} else {
				logger.Debug("thumbnail skipped", "path", path, "error", terr)
			}
		}
		if err := st.UpdateContentDescriptive(ctx, content.ID, mime, thumbMIME, thumb); err != nil {
			return fmt.Errorf("refresh content metadata: %w", err)
		}
	}

	if err := st.SetPathContent(ctx, pathID, content.ID); err != nil {
		return fmt.Errorf("attach content reference: %w", err)
	}
	return nil
}
