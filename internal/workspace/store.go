package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makeasinger/stemscore/internal/model"
)

const (
	inputDirName  = "input"
	outputDirName = "output"
)

// ErrInvalidJobID is returned when a job id is not a canonical UUID.
var ErrInvalidJobID = errors.New("invalid job id")

// StorageError reports a failure to create or inspect workspace directories.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store is the persistence boundary for job workspaces. Every path it hands
// out is derived from the job id alone.
type Store interface {
	Create(ctx context.Context) (*model.Job, error)
	Locate(jobID string) (*model.Job, error)
	List() ([]Entry, error)
	Reap(ctx context.Context, maxAge time.Duration) (ReapResult, error)
}

// FSStore keeps workspaces as directories under a single base path.
type FSStore struct {
	base string
}

// NewFSStore returns a store rooted at base. The base is made absolute so
// later working-directory changes cannot move it.
func NewFSStore(base string) (*FSStore, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("workspace base is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Path: base, Err: err}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: abs, Err: err}
	}
	return &FSStore{base: abs}, nil
}

// Base returns the absolute storage base.
func (s *FSStore) Base() string {
	return s.base
}

// Create allocates a new job id and its input/output directories.
func (s *FSStore) Create(ctx context.Context) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	job := s.layout(uuid.New().String())

	// Mkdir (not MkdirAll) on the root fails if the directory already exists,
	// so two jobs can never share a tree.
	if err := os.Mkdir(job.Root, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: job.ID, Err: err}
	}
	for _, dir := range []string{job.InputDir, job.OutputDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(job.Root)
			return nil, &StorageError{Op: "mkdir", Path: job.ID, Err: err}
		}
	}

	return job, nil
}

// Locate computes the workspace paths for an existing job id. It does not
// touch the filesystem.
func (s *FSStore) Locate(jobID string) (*model.Job, error) {
	if !ValidJobID(jobID) {
		return nil, ErrInvalidJobID
	}
	return s.layout(jobID), nil
}

func (s *FSStore) layout(jobID string) *model.Job {
	root := filepath.Join(s.base, jobID)
	return &model.Job{
		ID:        jobID,
		Root:      root,
		InputDir:  filepath.Join(root, inputDirName),
		OutputDir: filepath.Join(root, outputDirName),
	}
}

// ValidJobID reports whether id is a UUID in canonical lowercase form.
func ValidJobID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.String() == id
}
