package store

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a stored filename would escape the
// media directory.
var ErrUnsafePath = errors.New("unsafe media path")

// SafeJoin joins name under dir and guarantees the result cannot
// escape dir. Stored records hold bare filenames, but the check guards
// against a tampered database or a crafted request id.
func SafeJoin(dir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrUnsafePath
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", ErrUnsafePath
		}
	}
	joined := filepath.Join(dir, filepath.Clean("/"+name))

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", ErrUnsafePath
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", ErrUnsafePath
	}
	if absJoined != absDir && !strings.HasPrefix(absJoined, absDir+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return absJoined, nil
}
