package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/makeasinger/stemscore/internal/model"
)

// waitDelay bounds how long Wait blocks on the output pipes after the
// child has been killed on cancellation.
const waitDelay = 5 * time.Second

// maxDiagnostic caps the captured text carried in errors.
const maxDiagnostic = 8 << 10

// ExecutionError reports a worker that exited non-zero or could not run.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *ExecutionError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	return fmt.Sprintf("worker failed (%d): %s", e.ExitCode, truncate(detail))
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ContractError reports a worker that exited 0 but whose stdout is not a
// single valid result document.
type ContractError struct {
	Reason string
	Output string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker contract violation: %s: %v", e.Reason, e.Err)
	}
	return "worker contract violation: " + e.Reason
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// Invoker runs the analysis worker for one job.
type Invoker interface {
	Invoke(ctx context.Context, inputPath, outputDir, jobID string) (*model.WorkerResult, error)
}

// Command launches the worker as `<Path> <Args...> --input <in> --output <out> --job-id <id>`.
type Command struct {
	Path      string
	Args      []string
	Dir       string
	validator *validator.Validate
}

// NewCommand creates a subprocess Invoker.
func NewCommand(path string, args []string, dir string, v *validator.Validate) *Command {
	if v == nil {
		v = validator.New()
	}
	return &Command{
		Path:      path,
		Args:      append([]string(nil), args...),
		Dir:       dir,
		validator: v,
	}
}

// Argv returns the full argument list passed to the worker for a job.
func (c *Command) Argv(inputPath, outputDir, jobID string) []string {
	argv := append([]string(nil), c.Args...)
	return append(argv,
		"--input", inputPath,
		"--output", outputDir,
		"--job-id", jobID,
	)
}

// Invoke runs the worker and parses its report. Stdout and stderr are drained
// concurrently by os/exec, so a chatty worker cannot block on a full pipe.
func (c *Command) Invoke(ctx context.Context, inputPath, outputDir, jobID string) (*model.WorkerResult, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Argv(inputPath, outputDir, jobID)...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &ExecutionError{
			ExitCode: -1,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
			Err:      ctxErr,
		}
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ExecutionError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
			Err:      err,
		}
	}

	return c.parse(stdout.Bytes(), jobID)
}

func (c *Command) parse(raw []byte, jobID string) (*model.WorkerResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ContractError{Reason: "empty output"}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var result model.WorkerResult
	if err := dec.Decode(&result); err != nil {
		return nil, &ContractError{Reason: "malformed json", Output: truncate(string(trimmed)), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ContractError{Reason: "trailing data after result document", Output: truncate(string(trimmed))}
	}

	if err := c.validator.Struct(&result); err != nil {
		return nil, &ContractError{Reason: "invalid result document", Err: err}
	}
	if result.JobID != "" && result.JobID != jobID {
		return nil, &ContractError{Reason: fmt.Sprintf("job id mismatch: got %q", result.JobID)}
	}
	result.JobID = jobID

	return &result, nil
}

func truncate(s string) string {
	if len(s) <= maxDiagnostic {
		return s
	}
	return s[:maxDiagnostic] + "..."
}
