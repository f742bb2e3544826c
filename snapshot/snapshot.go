// Package snapshot captures per-path metadata and decides whether a persisted
// record has gone stale.
package snapshot

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Snapshot is the observed metadata of one path, captured without following
// the final symlink. Times are unix nanoseconds.
type Snapshot struct {
	Mode      uint32
	Ctime     int64
	Mtime     int64
	Size      int64
	IsDir     bool
	IsLink    bool
	IsMount   bool
	IsRegular bool
	Symlink   string
}

// Capture lstats path and derives the full snapshot. The IsRegular flag is
// derived, not read: a node is regular unless it is a directory or it resolves
// to something that is neither a directory nor an ordinary file (device,
// socket, FIFO). That derived flag is what gates content hashing.
func Capture(path string) (Snapshot, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Mode:  uint32(st.Mode),
		Ctime: st.Ctim.Nano(),
		Mtime: st.Mtim.Nano(),
		Size:  st.Size,
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		snap.IsDir = true
	case unix.S_IFLNK:
		snap.IsLink = true
		if target, err := os.Readlink(path); err == nil {
			snap.Symlink = target
		}
	}

	snap.IsMount = isMountPoint(path, &st)
	snap.IsRegular = deriveRegular(path, snap.IsDir)
	return snap, nil
}

// deriveRegular reports whether content identification applies. A broken
// symlink counts as regular here; the later read fails and is surfaced as a
// hashing warning instead of being classified away.
func deriveRegular(path string, isDir bool) bool {
	if isDir {
		return false
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		// Target missing or unreachable: nothing says it is special.
		return true
	}
	return st.Mode&unix.S_IFMT == unix.S_IFREG
}

// isMountPoint mirrors the classic ismount check: a non-link path whose parent
// lives on a different device, or whose parent resolves to the same inode
// (filesystem root).
func isMountPoint(path string, st *unix.Stat_t) bool {
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return false
	}
	parent := filepath.Dir(path)
	var pst unix.Stat_t
	if err := unix.Stat(parent, &pst); err != nil {
		return false
	}
	if uint64(pst.Dev) != uint64(st.Dev) {
		return true
	}
	return pst.Ino == st.Ino
}

// Equal compares every field independently. Any single mismatch makes the
// persisted record dirty.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Mode == o.Mode &&
		s.Ctime == o.Ctime &&
		s.Mtime == o.Mtime &&
		s.Size == o.Size &&
		s.IsDir == o.IsDir &&
		s.IsLink == o.IsLink &&
		s.IsMount == o.IsMount &&
		s.IsRegular == o.IsRegular &&
		s.Symlink == o.Symlink
}
