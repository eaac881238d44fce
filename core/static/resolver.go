package static

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/searchktools/fileserver/core/http"
)

const (
	// DefaultDocument is served for request paths ending in a slash
	DefaultDocument = "index.html"

	// ServerName is sent in the server header of every response
	ServerName = "fileserver/v0.1.0"
)

// Resolver maps request URIs to files under a document root. The root is
// canonical (absolute, symlinks resolved) and never changes, so a Resolver
// is safe for concurrent use.
type Resolver struct {
	root string
}

// NewResolver canonicalizes root and returns a Resolver serving from it
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("static: resolve root %q: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("static: canonicalize root %q: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("static: stat root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static: root %q is not a directory", root)
	}

	return &Resolver{root: canonical}, nil
}

// Root returns the canonical document root
func (r *Resolver) Root() string {
	return r.root
}

// Resolve builds the response for req. A path that is missing, escapes the
// root, or names a directory yields a 404 without body, never an error.
//
// On success the file is read into buf and the bytes are moved into the
// response body, leaving buf empty. The caller hands them back to buf once the
// response is written.
func (r *Resolver) Resolve(req *http.Request, buf *bytebufferpool.ByteBuffer) (*http.Response, error) {
	resp := http.NewResponse(req.Version, http.StatusOK)
	resp.Header.Add(http.HeaderServer, ServerName)

	path, ok := r.lookup(req.URI)
	if !ok {
		notFound(resp)
		return resp, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			notFound(resp)
			return resp, nil
		}
		return nil, fmt.Errorf("static: open %s: %w", path, err)
	}
	defer f.Close()

	buf.Reset()
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("static: read %s: %w", path, err)
	}

	resp.Header.Add(http.HeaderContentType, ContentType(path))
	resp.Body = take(buf)
	return resp, nil
}

// lookup returns the canonical file path for uri if it is a regular file
// inside the root.
func (r *Resolver) lookup(uri string) (string, bool) {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		return "", false
	}

	joined := filepath.Join(r.root, strings.TrimPrefix(decoded, "/"))
	if strings.HasSuffix(decoded, "/") {
		joined = filepath.Join(joined, DefaultDocument)
	}

	// Canonicalize after joining so that ".." and symlinks are judged by
	// the filesystem.
	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", false
	}
	if !within(r.root, canonical) {
		return "", false
	}

	info, err := os.Stat(canonical)
	if err != nil || info.IsDir() {
		return "", false
	}

	return canonical, true
}

// within reports whether path is root or lies below it, comparing whole
// path components.
func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func notFound(resp *http.Response) {
	resp.Status = http.StatusNotFound
	resp.Reason = http.StatusText(http.StatusNotFound)
	resp.Body = nil
}

// take moves the bytes out of buf, leaving it empty
func take(buf *bytebufferpool.ByteBuffer) []byte {
	body := buf.B
	buf.B = nil
	if body == nil {
		body = []byte{}
	}
	return body
}
