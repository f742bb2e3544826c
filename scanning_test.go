package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chenz/idxscan/ignore"
	"github.com/chenz/idxscan/snapshot"
	"github.com/chenz/idxscan/store"
)

// mustParseTime is a fixed moment in the past for mtime manipulation.
func mustParseTime(t *testing.T) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, "2020-06-01T12:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func testSnapshotRegular() snapshot.Snapshot {
	return snapshot.Snapshot{Mode: 0o100644, Size: 4, IsRegular: true}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// scanTree runs one pass over root with a stubbed MIME classifier.
func scanTree(t *testing.T, st *store.Store, root string, mutate func(*ScanOptions)) ScanSummary {
	t.Helper()
	matcher := ignore.NewMatcher(ignore.MatcherOptions{RootDir: root})
	options := ScanOptions{
		Root:        root,
		RefreshMIME: true,
		Classify:    func(string) string { return "text/plain" },
	}
	if mutate != nil {
		mutate(&options)
	}
	summary, err := performScan(context.Background(), st, matcher, options, testLogger())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return summary
}

const testSHA256 = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func Test_performScan_DeduplicatesIdenticalContent(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("test"), 0o644)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("test"), 0o644)

	st := newTestStore(t)
	summary := scanTree(t, st, root, nil)

	// root dir + two files
	if summary.Created != 3 {
		t.Errorf("expected 3 created records, got %d", summary.Created)
	}

	ctx := context.Background()
	a, err := st.LoadPath(ctx, filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := st.LoadPath(ctx, filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !a.ContentID.Valid || !b.ContentID.Valid {
		t.Fatal("both paths must carry a content reference")
	}
	if a.ContentID.Int64 != b.ContentID.Int64 {
		t.Error("identical bytes must resolve to one content record")
	}

	content, err := st.LoadContent(ctx, 4, testSHA256)
	if err != nil {
		t.Fatalf("expected content record for sha256 of %q: %v", "test", err)
	}
	if content.ID != a.ContentID.Int64 {
		t.Error("content reference does not point at the digest's record")
	}
	if n, _ := st.ContentCount(ctx); n != 1 {
		t.Errorf("expected 1 content record, got %d", n)
	}
}

func Test_performScan_SecondPassIsIdempotent(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "sub"), 0o755)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644)
	os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("beta"), 0o644)

	st := newTestStore(t)
	first := scanTree(t, st, root, nil)
	second := scanTree(t, st, root, nil)

	if second.Created != 0 || second.Updated != 0 {
		t.Errorf("second pass wrote: created=%d updated=%d", second.Created, second.Updated)
	}
	if second.Unchanged != first.Seen {
		t.Errorf("expected all %d paths unchanged, got %d", first.Seen, second.Unchanged)
	}
	if second.Hashed != 0 {
		t.Errorf("unchanged files must not be re-hashed, hashed=%d", second.Hashed)
	}
}

func Test_performScan_MetadataChangeKeepsContentIdentity(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	os.WriteFile(path, []byte("test"), 0o644)

	st := newTestStore(t)
	scanTree(t, st, root, nil)

	ctx := context.Background()
	before, err := st.LoadPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	// Touch mtime only; the bytes are identical.
	newTime := mustParseTime(t)
	os.Chtimes(path, newTime, newTime)

	summary := scanTree(t, st, root, nil)
	if summary.Updated != 1 {
		t.Errorf("expected 1 dirty record, got %d", summary.Updated)
	}

	after, err := st.LoadPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if after.ContentID.Int64 != before.ContentID.Int64 {
		t.Error("metadata-only change must keep the content identity")
	}
	if n, _ := st.ContentCount(ctx); n != 1 {
		t.Errorf("metadata-only change created a content record, total %d", n)
	}
}

func Test_performScan_RewriteCreatesNewContentKeepsOld(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	os.WriteFile(path, []byte("test"), 0o644)

	st := newTestStore(t)
	scanTree(t, st, root, nil)

	ctx := context.Background()
	before, _ := st.LoadPath(ctx, path)

	os.WriteFile(path, []byte("rather different content"), 0o644)
	summary := scanTree(t, st, root, nil)
	if summary.Updated != 1 {
		t.Errorf("size change must mark the record dirty, updated=%d", summary.Updated)
	}

	after, _ := st.LoadPath(ctx, path)
	if !after.ContentID.Valid || after.ContentID.Int64 == before.ContentID.Int64 {
		t.Error("rewritten file must reference a new content record")
	}
	// The superseded record stays; nothing is garbage collected.
	if n, _ := st.ContentCount(ctx); n != 2 {
		t.Errorf("expected old and new content records, got %d", n)
	}
}

func Test_performScan_KindTransitionClearsContentReference(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "node")
	os.WriteFile(path, []byte("file for now"), 0o644)

	st := newTestStore(t)
	scanTree(t, st, root, nil)

	ctx := context.Background()
	before, _ := st.LoadPath(ctx, path)
	if !before.ContentID.Valid {
		t.Fatal("precondition: file has a content reference")
	}

	os.Remove(path)
	os.Mkdir(path, 0o755)
	scanTree(t, st, root, nil)

	after, _ := st.LoadPath(ctx, path)
	if !after.Meta.IsDir {
		t.Fatal("record did not pick up the directory snapshot")
	}
	if after.ContentID.Valid {
		t.Error("a path that became a directory must not keep a content reference")
	}
}

func Test_performScan_SymlinkCycleCompletes(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644)
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	st := newTestStore(t)
	summary := scanTree(t, st, root, nil)

	if summary.Errors != 0 {
		t.Errorf("cycle scan reported %d errors", summary.Errors)
	}
	// root + a.txt; the loop resolves to the visited root and is skipped.
	if summary.Seen != 2 {
		t.Errorf("expected 2 paths, saw %d", summary.Seen)
	}
}

func Test_performScan_IncludeGlobLimitsCatalogedFiles(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "keep.txt"), []byte("k"), 0o644)
	os.WriteFile(filepath.Join(root, "drop.bin"), []byte{0, 1}, 0o644)

	st := newTestStore(t)
	matcher := ignore.NewMatcher(ignore.MatcherOptions{
		RootDir:  root,
		Includes: []string{"**/*.txt"},
	})
	_, err := performScan(context.Background(), st, matcher, ScanOptions{
		Root:     root,
		Classify: func(string) string { return "" },
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := st.LoadPath(ctx, filepath.Join(root, "keep.txt")); err != nil {
		t.Errorf("included file missing from catalog: %v", err)
	}
	if _, err := st.LoadPath(ctx, filepath.Join(root, "drop.bin")); err == nil {
		t.Error("excluded-by-include file was cataloged")
	}
}

func Test_performScan_RefreshMIMEIsConfigurable(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o644)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("same"), 0o644)

	st := newTestStore(t)
	var calls int
	countingClassify := func(string) string {
		calls++
		return "text/plain"
	}

	// Refresh off: only the creating observation classifies.
	scanTree(t, st, root, func(o *ScanOptions) {
		o.RefreshMIME = false
		o.Classify = countingClassify
		o.Workers = 1
	})
	if calls != 1 {
		t.Errorf("with refresh off, expected 1 classification, got %d", calls)
	}

	// Refresh on: rewrite one file's mtime so both hash again; the reused
	// content record is re-classified too.
	newTime := mustParseTime(t)
	os.Chtimes(filepath.Join(root, "a.txt"), newTime, newTime)
	os.Chtimes(filepath.Join(root, "b.txt"), newTime, newTime)
	calls = 0
	scanTree(t, st, root, func(o *ScanOptions) {
		o.Classify = countingClassify
		o.Workers = 1
	})
	if calls != 2 {
		t.Errorf("with refresh on, expected 2 classifications, got %d", calls)
	}
}

func Test_performScan_MultipleWorkersAgreeOnDedup(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		os.WriteFile(filepath.Join(root, name+".txt"), []byte("shared payload"), 0o644)
	}

	st := newTestStore(t)
	summary := scanTree(t, st, root, func(o *ScanOptions) { o.Workers = 4 })
	if summary.Errors != 0 {
		t.Fatalf("concurrent scan reported %d errors", summary.Errors)
	}

	// Races on the content insert resolve through the unique constraint:
	// losers reload, and exactly one record exists afterwards.
	if n, _ := st.ContentCount(context.Background()); n != 1 {
		t.Errorf("expected 1 content record under concurrency, got %d", n)
	}
}

func Test_identifyContent_UnreadableNodeRecordsFailure(t *testing.T) {
	root := t.TempDir()
	st := newTestStore(t)
	ctx := context.Background()

	// A directory path fails the sequential read; the failure must be an
	// explicit marker, not a silent omission.
	rec, _, err := st.CreateOrLoadPath(ctx, filepath.Join(root, "dir-as-content"), testSnapshotRegular())
	if err != nil {
		t.Fatal(err)
	}
	var stats ScanStats
	err = identifyContent(ctx, st, rec.ID, root, ScanOptions{
		Classify: func(string) string { return "" },
	}, testLogger(), &stats)
	if err != nil {
		t.Fatalf("hashing failure must not propagate: %v", err)
	}

	reloaded, _ := st.LoadPath(ctx, filepath.Join(root, "dir-as-content"))
	if reloaded.ContentID.Valid {
		t.Error("failed identification left a content reference")
	}
	if !reloaded.ContentError.Valid || reloaded.ContentError.String == "" {
		t.Error("failed identification must record an explicit error")
	}
}
