// Package xattr collects user extended attributes without following the final
// symlink. Filesystems without xattr support simply yield nothing.
package xattr

import (
	"strings"

	"golang.org/x/sys/unix"
)

// List returns every user.* attribute name and value on path. Any error
// (unsupported filesystem, vanished node, permission) yields an empty map;
// xattr collection is best-effort by policy.
func List(path string) map[string][]byte {
	attrs := make(map[string][]byte)

	size, err := unix.Llistxattr(path, nil)
	if err != nil || size == 0 {
		return attrs
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return attrs
	}

	for _, name := range splitNames(buf[:n]) {
		if !strings.HasPrefix(name, "user.") {
			continue
		}
		value, err := get(path, name)
		if err != nil {
			continue
		}
		attrs[name] = value
	}
	return attrs
}

func get(path, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	value := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, value)
	if err != nil {
		return nil, err
	}
	return value[:n], nil
}

// splitNames decodes the NUL-separated name list returned by listxattr.
func splitNames(buf []byte) []string {
	var names []string
	for _, part := range strings.Split(string(buf), "\x00") {
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}
