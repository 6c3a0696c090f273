package results

import (
	"errors"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/makeasinger/stemscore/internal/model"
)

var (
	// ErrMissingPath is returned when no path parameter was supplied.
	ErrMissingPath = errors.New("missing path")
	// ErrInvalidPath is returned for any path that is unsafe or escapes the
	// job's output directory. Its message never includes the path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound is returned when the confined path is not a readable file.
	ErrNotFound = errors.New("file not found")
)

const defaultContentType = "application/octet-stream"

func init() {
	// Types the worker produces that are missing from most system tables.
	for ext, typ := range map[string]string{
		".mid":      "audio/midi",
		".midi":     "audio/midi",
		".musicxml": "application/vnd.recordare.musicxml+xml",
		".mxl":      "application/vnd.recordare.musicxml",
		".json":     "application/json",
		".wav":      "audio/wav",
		".zip":      "application/zip",
	} {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// Locator maps a job id to its workspace. workspace.Store satisfies it.
type Locator interface {
	Locate(jobID string) (*model.Job, error)
}

// Gateway resolves retrieval requests to files confined to a job's output directory.
type Gateway struct {
	locator Locator
}

// NewGateway creates a Gateway.
func NewGateway(locator Locator) *Gateway {
	return &Gateway{locator: locator}
}

// Resolve returns the canonical absolute path of rawPath inside jobID's
// output directory. Both the base and the candidate are canonicalized
// (symlinks included) before the separator-bounded prefix check.
func (g *Gateway) Resolve(jobID, rawPath string) (string, error) {
	if rawPath == "" {
		return "", ErrMissingPath
	}
	job, err := g.locator.Locate(jobID)
	if err != nil {
		return "", ErrInvalidPath
	}

	rel := strings.ReplaceAll(rawPath, "\x00", "")
	if rel == "" {
		return "", ErrMissingPath
	}
	if strings.Contains(rel, "..") {
		return "", ErrInvalidPath
	}

	base, err := canonicalBase(job.OutputDir)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(base, rel)
	resolved, err := filepath.EvalSymlinks(candidate)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		// Nothing to follow; the lexical form is canonical enough to decide
		// confinement before reporting the miss.
		if !within(base, filepath.Clean(candidate)) {
			return "", ErrInvalidPath
		}
		return "", ErrNotFound
	default:
		return "", ErrInvalidPath
	}

	if !within(base, resolved) {
		return "", ErrInvalidPath
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return resolved, nil
}

func canonicalBase(outputDir string) (string, error) {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return "", ErrInvalidPath
	}
	base, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", ErrInvalidPath
	}
	return base, nil
}

// within reports whether path is base itself or strictly below it.
func within(base, path string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}

// ContentType infers a media type from the file name.
func ContentType(name string) string {
	if typ := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); typ != "" {
		return typ
	}
	return defaultContentType
}
