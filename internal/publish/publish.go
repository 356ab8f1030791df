// Package publish exposes local files, typically built bundles, at public
// URLs.
package publish

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/assetmin/internal/errors"
)

// Publisher makes a local file reachable at a public URL.
type Publisher interface {
	// Publish copies the file at path into the public location unless an
	// up-to-date copy is already there, and returns its URL.
	Publish(ctx context.Context, path string) (string, error)
	// PublishedURL returns the URL of an up-to-date published copy of path
	// without publishing it. ok is false when no such copy exists.
	PublishedURL(ctx context.Context, path string) (url string, ok bool, err error)
}

// LocalPublisher copies files below Dir and serves them under BaseURL. Each
// source directory gets its own hashed sub-directory so equal file names
// from different directories do not collide.
type LocalPublisher struct {
	Dir     string
	BaseURL string
}

var _ Publisher = (*LocalPublisher)(nil)

// NewLocalPublisher creates a publisher writing into dir and addressing files
// as baseURL/<hash>/<name>.
func NewLocalPublisher(dir, baseURL string) *LocalPublisher {
	return &LocalPublisher{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Publish implements Publisher.
func (p *LocalPublisher) Publish(ctx context.Context, src string) (string, error) {
	url, ok, err := p.PublishedURL(ctx, src)
	if err != nil || ok {
		return url, err
	}

	dst, rel := p.target(src)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.NewPublishError(dst, err)
	}
	if err := copyFile(src, dst); err != nil {
		return "", errors.NewPublishError(src, err)
	}

	return p.BaseURL + "/" + rel, nil
}

// PublishedURL implements Publisher. A copy is up to date when it is at
// least as new as its source.
func (p *LocalPublisher) PublishedURL(_ context.Context, src string) (string, bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", false, errors.NewPublishError(src, err)
	}

	dst, rel := p.target(src)
	dstInfo, err := os.Stat(dst)
	if err != nil || dstInfo.ModTime().Before(srcInfo.ModTime()) {
		return "", false, nil
	}

	return p.BaseURL + "/" + rel, true, nil
}

// Path maps a URL produced by this publisher back to the file on disk.
func (p *LocalPublisher) Path(url string) (string, bool) {
	rel, ok := strings.CutPrefix(url, p.BaseURL+"/")
	if !ok || rel == "" {
		return "", false
	}
	clean := path.Clean("/" + rel)[1:]
	return filepath.Join(p.Dir, filepath.FromSlash(clean)), true
}

func (p *LocalPublisher) target(src string) (string, string) {
	abs, err := filepath.Abs(src)
	if err != nil {
		abs = src
	}
	sum := md5.Sum([]byte(filepath.Dir(abs)))
	dir := hex.EncodeToString(sum[:])[:8]

	rel := dir + "/" + filepath.Base(abs)
	return filepath.Join(p.Dir, dir, filepath.Base(abs)), rel
}

// copyFile writes through a temporary file and renames it into place so a
// concurrent reader never sees a partial copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}
