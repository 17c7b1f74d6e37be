// Package attachment downloads the image referenced by a notification
// request and stages it as a local file the notification server can read.
package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

var log = logging.L("attachment")

// ErrFetchFailed wraps any failure to download or stage an image.
var ErrFetchFailed = errors.New("attachment fetch failed")

// Kind says where a staged image came from.
type Kind string

const (
	KindAttachment Kind = "attachment"
	KindProfile    Kind = "profile"
)

// Fetcher is the blocking "fetch bytes from URL" capability.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Staged is a local image file produced for exactly one notification.
// Release removes per-message files; cached avatars are kept.
type Staged struct {
	Path string
	Kind Kind

	temporary bool
	once      sync.Once
}

// Release discards the staged file. It is safe to call on a nil *Staged and
// more than once.
func (s *Staged) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if !s.temporary {
			return
		}
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove staged attachment", "path", s.Path, "error", err)
		}
	})
}

// ImagePath returns the staged path, or "" for a nil *Staged.
func (s *Staged) ImagePath() string {
	if s == nil {
		return ""
	}
	return s.Path
}

// Options configures a Resolver.
type Options struct {
	StagingDir   string // per-message attachments
	CacheDir     string // avatars, keyed by URL
	MaxDimension int    // longest side in pixels, 0 = keep original size
}

// Resolver turns a request's image URL into a Staged file.
type Resolver struct {
	fetcher Fetcher
	opts    Options
}

// NewResolver creates the staging and cache directories.
func NewResolver(fetcher Fetcher, opts Options) (*Resolver, error) {
	for _, dir := range []string{opts.StagingDir, opts.CacheDir} {
		if dir == "" {
			return nil, fmt.Errorf("attachment directories must be set")
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Resolver{fetcher: fetcher, opts: opts}, nil
}

// Resolve fetches the attachment_url if set, else the avatar_url if set,
// else returns nil. Each attachment gets a unique file so concurrent
// requests never see each other's image.
func (r *Resolver) Resolve(ctx context.Context, req protocol.NotificationRequest) (*Staged, error) {
	url, isAttachment := req.ImageURL()
	if url == "" {
		return nil, nil
	}

	if !isAttachment {
		return r.resolveAvatar(ctx, url)
	}

	data, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s-%s.png", KindAttachment, sanitize(req.MessageID), uuid.NewString())
	path := filepath.Join(r.opts.StagingDir, name)
	if err := writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("%w: stage %s: %v", ErrFetchFailed, path, err)
	}
	return &Staged{Path: path, Kind: KindAttachment, temporary: true}, nil
}

func (r *Resolver) resolveAvatar(ctx context.Context, url string) (*Staged, error) {
	sum := sha256.Sum256([]byte(url))
	path := filepath.Join(r.opts.CacheDir, hex.EncodeToString(sum[:16])+".png")

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		log.Debug("avatar cache hit", "path", path)
		return &Staged{Path: path, Kind: KindProfile}, nil
	}

	data, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("%w: cache %s: %v", ErrFetchFailed, path, err)
	}
	return &Staged{Path: path, Kind: KindProfile}, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	return r.shrink(data), nil
}

// shrink downscales images larger than MaxDimension and re-encodes them as
// PNG. Data that does not decode as an image is staged unchanged and left
// for the notification server to judge.
func (r *Resolver) shrink(data []byte) []byte {
	if r.opts.MaxDimension <= 0 {
		return data
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data
	}
	limit := r.opts.MaxDimension
	if cfg.Width <= limit && cfg.Height <= limit {
		return data
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	thumb := resize.Thumbnail(uint(limit), uint(limit), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return data
	}
	log.Debug("downscaled image",
		"from", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"to", fmt.Sprintf("%dx%d", thumb.Bounds().Dx(), thumb.Bounds().Dy()),
		"size", humanize.IBytes(uint64(buf.Len())),
	)
	return buf.Bytes()
}

// writeAtomic writes through a temp file in the same directory so a reader
// never observes a partial image.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// sanitize keeps ids usable as file name fragments.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}
