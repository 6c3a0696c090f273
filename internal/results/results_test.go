package results

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/makeasinger/stemscore/internal/model"
)

// dirLocator maps job ids straight to <root>/<id>/output.
type dirLocator struct {
	root string
}

func (l dirLocator) Locate(jobID string) (*model.Job, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, errors.New("bad id")
	}
	root := filepath.Join(l.root, jobID)
	return &model.Job{ID: jobID, Root: root, InputDir: filepath.Join(root, "input"), OutputDir: filepath.Join(root, "output")}, nil
}

func strPtr(s string) *string { return &s }

func setupStore(t *testing.T) (string, *Gateway) {
	t.Helper()
	root := t.TempDir()
	for _, job := range []string{"jobA", "jobB", "job1", "job10"} {
		if err := os.MkdirAll(filepath.Join(root, job, "output", "tracks"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	mustWrite(t, filepath.Join(root, "jobA", "output", "results.zip"), "zip")
	mustWrite(t, filepath.Join(root, "jobA", "output", "tracks", "drums.mid"), "midi")
	mustWrite(t, filepath.Join(root, "jobB", "output", "secret"), "secret")
	mustWrite(t, filepath.Join(root, "job10", "output", "secret"), "secret10")
	return root, NewGateway(dirLocator{root: root})
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func canonical(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("eval %s: %v", path, err)
	}
	return resolved
}

func TestProjectRewritesPresentPaths(t *testing.T) {
	p := NewProjector("")
	result := &model.WorkerResult{Tracks: []model.TrackRecord{{
		ID:       "t1",
		Label:    "Piano",
		Audio:    strPtr("piano.wav"),
		Midi:     strPtr("piano.mid"),
		MusicXML: nil,
		Notes:    strPtr(""),
		Status:   strPtr("partial"),
	}}}

	tracks := p.Project("jobA", result)
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if tr.Audio == nil || *tr.Audio != "/api/results/jobA?path=piano.wav" {
		t.Errorf("audio = %v", tr.Audio)
	}
	if tr.Midi == nil || *tr.Midi != "/api/results/jobA?path=piano.mid" {
		t.Errorf("midi = %v", tr.Midi)
	}
	if tr.MusicXML != nil || tr.Notes != nil {
		t.Errorf("expected nil musicxml/notes, got %v %v", tr.MusicXML, tr.Notes)
	}
	if tr.Status == nil || *tr.Status != "partial" || tr.Label != "Piano" {
		t.Errorf("metadata not carried over: %+v", tr)
	}
}

func TestProjectEncodesQueryComponent(t *testing.T) {
	p := NewProjector("https://scores.example.com")
	got := p.URL("jobA", "a b&c=d/e+f.mid")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	if u.Host != "scores.example.com" || u.Path != "/api/results/jobA" {
		t.Errorf("unexpected url %q", got)
	}
	if v := u.Query().Get(PathParam); v != "a b&c=d/e+f.mid" {
		t.Errorf("round trip gave %q", v)
	}
	if p.ArchiveURL("jobA") != "https://scores.example.com/api/results/jobA?path=results.zip" {
		t.Errorf("archive url %q", p.ArchiveURL("jobA"))
	}
}

func TestProjectorURLRoundTripsThroughGateway(t *testing.T) {
	root, g := setupStore(t)
	ref := NewProjector("").URL("jobA", "tracks/drums.mid")

	u, err := url.Parse(ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	jobID := strings.TrimPrefix(u.Path, RoutePrefix)
	got, err := g.Resolve(jobID, u.Query().Get(PathParam))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := canonical(t, filepath.Join(root, "jobA", "output", "tracks", "drums.mid"))
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolveAllowsFilesInsideOutput(t *testing.T) {
	root, g := setupStore(t)

	got, err := g.Resolve("jobA", "results.zip")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := canonical(t, filepath.Join(root, "jobA", "output", "results.zip")); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}

	// Leading slash is joined under the base, never treated as absolute.
	if _, err := g.Resolve("jobA", "/tracks/drums.mid"); err != nil {
		t.Errorf("Resolve with leading slash: %v", err)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	_, g := setupStore(t)

	for _, p := range []string{
		"../../jobB/output/secret",
		"../output/results.zip",
		"tracks/../../../jobB/output/secret",
		"..",
		"..\x00/jobB/output/secret",
		".\x00./jobB",
		"foo..bar",
	} {
		if _, err := g.Resolve("jobA", p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q) = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestResolveRejectsSymlinkEscapeToSibling(t *testing.T) {
	root, g := setupStore(t)
	link := filepath.Join(root, "job1", "output", "leak")
	if err := os.Symlink(filepath.Join(root, "job10", "output", "secret"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	dirLink := filepath.Join(root, "job1", "output", "sibling")
	if err := os.Symlink(filepath.Join(root, "job10", "output"), dirLink); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	for _, p := range []string{"leak", "sibling/secret"} {
		if _, err := g.Resolve("job1", p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(job1, %q) = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestWithinRequiresSeparatorBoundary(t *testing.T) {
	base := filepath.FromSlash("/x/job1")
	cases := map[string]bool{
		"/x/job1":          true,
		"/x/job1/a.mid":    true,
		"/x/job1/sub/a":    true,
		"/x/job10":         false,
		"/x/job10/secret":  false,
		"/x/job1.bak/file": false,
		"/x":               false,
	}
	for p, want := range cases {
		if got := within(base, filepath.FromSlash(p)); got != want {
			t.Errorf("within(%q, %q) = %v, want %v", base, p, got, want)
		}
	}
}

func TestResolveMissingAndNotFound(t *testing.T) {
	_, g := setupStore(t)

	if _, err := g.Resolve("jobA", ""); !errors.Is(err, ErrMissingPath) {
		t.Errorf("empty path: %v", err)
	}
	if _, err := g.Resolve("jobA", "\x00"); !errors.Is(err, ErrMissingPath) {
		t.Errorf("nul-only path: %v", err)
	}
	if _, err := g.Resolve("jobA", "nope.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file: %v", err)
	}
	if _, err := g.Resolve("jobA", "tracks"); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory: %v", err)
	}
	if _, err := g.Resolve("nojob", "results.zip"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown job: %v", err)
	}
	if _, err := g.Resolve("../jobB", "secret"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("bad job id: %v", err)
	}
}

func TestInvalidPathErrorDoesNotLeakPaths(t *testing.T) {
	root, g := setupStore(t)
	_, err := g.Resolve("jobA", "../../jobB/output/secret")
	if err == nil || strings.Contains(err.Error(), root) || strings.Contains(err.Error(), "jobB") {
		t.Errorf("error leaks filesystem detail: %v", err)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"piano.mid":      "audio/midi",
		"score.musicxml": "application/vnd.recordare.musicxml+xml",
		"results.zip":    "application/zip",
		"stem.WAV":       "audio/wav",
		"mystery.qqq":    "application/octet-stream",
		"no-extension":   "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
