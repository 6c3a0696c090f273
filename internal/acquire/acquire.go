package acquire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultFilename is used when an upload's declared name sanitizes to nothing.
const DefaultFilename = "source.mp3"

const (
	maxFilenameLen = 128
	sniffLen       = 3072
)

var (
	// ErrUnsupportedMedia is returned when an upload does not look like audio.
	ErrUnsupportedMedia = errors.New("uploaded file is not an audio file")
	// ErrSourceNotAllowed is returned for remote URLs outside the allowlist.
	ErrSourceNotAllowed = errors.New("remote source is not allowed")
)

// WriteError reports a failure to persist an uploaded payload.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write upload %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// FetchError reports a failure to download a remote source.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Streamer opens the best audio-only stream for a remote media URL.
// size is -1 when the length is unknown; ext includes the leading dot.
type Streamer interface {
	OpenAudio(ctx context.Context, rawURL string) (stream io.ReadCloser, size int64, ext string, err error)
}

// Options configures an Acquirer.
type Options struct {
	AllowedHosts []string
	SniffAudio   bool
}

// Acquirer materializes job input files. A destination file only appears
// under its final name once it is complete.
type Acquirer struct {
	streamer     Streamer
	allowedHosts []string
	sniffAudio   bool
}

// New creates an Acquirer. streamer may be nil when remote sources are not used.
func New(streamer Streamer, opts Options) *Acquirer {
	hosts := make([]string, 0, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Acquirer{
		streamer:     streamer,
		allowedHosts: hosts,
		sniffAudio:   opts.SniffAudio,
	}
}

// Upload streams r into destDir under a sanitized form of filename.
func (a *Acquirer) Upload(ctx context.Context, r io.Reader, filename, destDir string) (string, error) {
	dest := filepath.Join(destDir, SanitizeFilename(filename))

	br := bufio.NewReaderSize(r, sniffLen)
	if a.sniffAudio {
		head, err := br.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return "", &WriteError{Path: dest, Err: err}
		}
		if !isAudio(head) {
			return "", ErrUnsupportedMedia
		}
	}

	if err := writeAtomic(ctx, dest, br, -1); err != nil {
		return "", &WriteError{Path: dest, Err: err}
	}
	return dest, nil
}

// Remote validates rawURL against the allowlist, then streams the best
// audio-only rendition into destDir.
func (a *Acquirer) Remote(ctx context.Context, rawURL, destDir string) (string, error) {
	if err := a.ValidateURL(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	if a.streamer == nil {
		return "", &FetchError{URL: rawURL, Err: errors.New("remote streaming is not configured")}
	}

	stream, size, ext, err := a.streamer.OpenAudio(ctx, rawURL)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	defer stream.Close()

	dest := filepath.Join(destDir, "source"+sanitizeExt(ext))
	if err := writeAtomic(ctx, dest, stream, size); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	return dest, nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL whose host is on
// the allowlist, either exactly or as a subdomain.
func (a *Acquirer) ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceNotAllowed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrSourceNotAllowed, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrSourceNotAllowed)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrSourceNotAllowed)
	}
	for _, allowed := range a.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrSourceNotAllowed, host)
}

// writeAtomic copies src into a temp file next to dest and renames it into
// place only after a complete, synced write. When want is >= 0 the copied
// length must match it.
func writeAtomic(ctx context.Context, dest string, src io.Reader, want int64) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return err
	}
	if want >= 0 && written != want {
		return fmt.Errorf("incomplete stream: got %d of %d bytes", written, want)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func isAudio(head []byte) bool {
	mtype := mimetype.Detect(head)
	for m := mtype; m != nil; m = m.Parent() {
		s := m.String()
		if strings.HasPrefix(s, "audio/") || strings.HasPrefix(s, "video/") {
			return true
		}
	}
	return false
}

// SanitizeFilename reduces a client-declared filename to a single safe path
// element, or DefaultFilename when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	clean := strings.TrimLeft(b.String(), ".")
	if len(clean) > maxFilenameLen {
		ext := filepath.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:maxFilenameLen-len(ext)] + ext
	}
	if strings.Trim(clean, "_") == "" {
		return DefaultFilename
	}
	return clean
}

func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ".audio"
		}
	}
	if ext == "" || len(ext) > 8 {
		return ".audio"
	}
	return "." + ext
}
