// Package walk produces every filesystem node reachable from a root exactly
// once, following symlinks without looping.
package walk

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SkipDir can be returned by a WalkFunc to stop descending into the current
// directory without aborting the walk.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called once for every reachable node. Returning SkipDir prunes
// the node's subtree; any other non-nil error aborts the walk.
type WalkFunc func(path string) error

// identity names a node for cycle detection. Device ids are not stable across
// reboots or remounts, so identities are scoped to a single walk and never
// persisted.
type identity struct {
	dev uint64
	ino uint64
}

// Walk visits every node reachable from root, following symlinks. A node
// reachable through more than one link is visited once. Nodes that vanish or
// cannot be inspected are skipped; the walk itself only fails on context
// cancellation or a fn error.
func Walk(ctx context.Context, root string, fn WalkFunc) error {
	visited := make(map[identity]struct{})
	return walk(ctx, filepath.Clean(root), visited, fn)
}

func walk(ctx context.Context, path string, visited map[identity]struct{}, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Identity comes from a following stat so that a symlink and its target
	// share one key. Vanished or unreadable nodes abandon the branch.
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EACCES) {
			return nil
		}
		return nil
	}

	key := identity{dev: uint64(st.Dev), ino: st.Ino}
	if _, seen := visited[key]; seen {
		return nil
	}
	// Mark before recursing, not after: a cycle through this node must hit
	// the guard while we are still inside it.
	visited[key] = struct{}{}

	if err := fn(path); err != nil {
		if errors.Is(err, SkipDir) {
			return nil
		}
		return err
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		// Unlistable directory: abandon the branch, keep walking elsewhere.
		return nil
	}
	for _, entry := range entries {
		if err := walk(ctx, filepath.Join(path, entry.Name()), visited, fn); err != nil {
			return err
		}
	}
	return nil
}
