package httpconn

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrPathEscape means the canonicalized path does not reside under the
// configured document root.
var ErrPathEscape = errors.New("httpconn: resolved path escapes document root")

// resolvePath joins root and requestPath, canonicalizes the result
// (resolving "." / ".." / symlinks to an absolute real path), and
// enforces that the canonicalized path is still prefixed by root. The
// resolver does not stat for regularity; a missing file or a symlink
// that resolves outside root both surface as an error, and the caller
// maps either outcome to a 404 response.
func resolvePath(root, requestPath string) (string, error) {
	joined := filepath.Join(root, requestPath)

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}

	if !isWithinRoot(real, root) {
		return "", ErrPathEscape
	}
	return real, nil
}

// isWithinRoot reports whether real is root itself or a descendant of
// it, comparing path components rather than a raw string prefix so
// "/srv-evil" is never mistaken for a child of "/srv".
func isWithinRoot(real, root string) bool {
	root = filepath.Clean(root)
	real = filepath.Clean(real)
	if real == root {
		return true
	}
	return strings.HasPrefix(real, root+string(filepath.Separator))
}
