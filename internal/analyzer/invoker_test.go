package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testJobID = "0b6f5b1e-8f4e-4d55-9a43-3b1f4f1c7d2a"

// writeWorker writes a shell script standing in for the analysis worker.
func writeWorker(t *testing.T, body string) *Command {
	t.Helper()
	script := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return NewCommand("/bin/sh", []string{script}, "", nil)
}

func TestArgvAppendsJobArguments(t *testing.T) {
	c := NewCommand("python3", []string{"python/process_audio.py"}, "", nil)
	got := strings.Join(c.Argv("/in/a.wav", "/out", testJobID), " ")
	want := "python/process_audio.py --input /in/a.wav --output /out --job-id " + testJobID
	if got != want {
		t.Errorf("Argv = %q, want %q", got, want)
	}
}

func TestInvokeParsesResult(t *testing.T) {
	c := writeWorker(t, `
[ "$1" = "--input" ] || exit 9
[ "$3" = "--output" ] || exit 9
[ "$5" = "--job-id" ] || exit 9
echo "processing $2" >&2
touch "$4/piano.mid"
printf '\n  {"jobId":"%s","tracks":[{"id":"t1","label":"Piano","audio":"piano.wav","midi":"piano.mid","musicxml":null,"notes":null,"noteEvents":[{"start":0.5,"duration":0.25,"pitchMidi":60,"pitchName":"C4","velocity":0.8}],"status":"ok"}]}\n\n' "$6"
`)
	outDir := t.TempDir()

	result, err := c.Invoke(context.Background(), "/tmp/in.wav", outDir, testJobID)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.JobID != testJobID {
		t.Errorf("JobID = %q", result.JobID)
	}
	if len(result.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(result.Tracks))
	}
	track := result.Tracks[0]
	if track.ID != "t1" || track.Label != "Piano" {
		t.Errorf("unexpected track %+v", track)
	}
	if track.Audio == nil || *track.Audio != "piano.wav" || track.Midi == nil || *track.Midi != "piano.mid" {
		t.Errorf("unexpected paths audio=%v midi=%v", track.Audio, track.Midi)
	}
	if track.MusicXML != nil || track.Notes != nil {
		t.Errorf("expected nil musicxml/notes, got %v %v", track.MusicXML, track.Notes)
	}
	if len(track.NoteEvents) != 1 || track.NoteEvents[0].PitchName != "C4" {
		t.Errorf("unexpected note events %+v", track.NoteEvents)
	}
	if track.Status == nil || *track.Status != "ok" {
		t.Errorf("unexpected status %v", track.Status)
	}
	if _, err := os.Stat(filepath.Join(outDir, "piano.mid")); err != nil {
		t.Errorf("worker did not receive output dir: %v", err)
	}
}

func TestInvokeAcceptsZeroTracks(t *testing.T) {
	c := writeWorker(t, `echo '{"tracks":[]}'`)

	result, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(result.Tracks) != 0 || result.JobID != testJobID {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestInvokeNonZeroExit(t *testing.T) {
	c := writeWorker(t, `echo "partial" ; echo "bad codec" >&2 ; exit 1`)

	_, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", execErr.ExitCode)
	}
	if !strings.Contains(err.Error(), "bad codec") {
		t.Errorf("error %q does not carry stderr", err.Error())
	}
}

func TestInvokeNonZeroExitFallsBackToStdout(t *testing.T) {
	c := writeWorker(t, `echo "model missing" ; exit 3`)

	_, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.ExitCode != 3 {
		t.Fatalf("expected ExecutionError with code 3, got %v", err)
	}
	if !strings.Contains(err.Error(), "model missing") {
		t.Errorf("error %q does not carry stdout", err.Error())
	}
}

func TestInvokeContractViolations(t *testing.T) {
	cases := map[string]string{
		"malformed":      `echo 'Traceback (most recent call last):'`,
		"empty":          `exit 0`,
		"trailing":       `echo '{"tracks":[]}' ; echo '{"tracks":[]}'`,
		"missing tracks": `echo '{"jobId":"` + testJobID + `"}'`,
		"null tracks":    `echo '{"tracks":null}'`,
		"missing label":  `echo '{"tracks":[{"id":"t1"}]}'`,
		"wrong job":      `echo '{"jobId":"someone-else","tracks":[]}'`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := writeWorker(t, body)
			_, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID)
			var contractErr *ContractError
			if !errors.As(err, &contractErr) {
				t.Fatalf("expected ContractError, got %v", err)
			}
		})
	}
}

func TestInvokeDrainsLargeStderr(t *testing.T) {
	c := writeWorker(t, `head -c 1048576 /dev/zero | tr '\0' 'x' >&2 ; echo '{"tracks":[]}'`)

	if _, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestInvokeCancellationKillsWorker(t *testing.T) {
	c := writeWorker(t, `exec sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Invoke(ctx, "in", t.TempDir(), testJobID)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Invoke returned after %s, worker was not killed", elapsed)
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	c := NewCommand(filepath.Join(t.TempDir(), "does-not-exist"), nil, "", nil)

	_, err := c.Invoke(context.Background(), "in", t.TempDir(), testJobID)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.ExitCode != -1 {
		t.Fatalf("expected ExecutionError with code -1, got %v", err)
	}
}
