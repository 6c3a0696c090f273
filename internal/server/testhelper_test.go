package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/stemscore/internal/acquire"
	"github.com/makeasinger/stemscore/internal/analyzer"
	"github.com/makeasinger/stemscore/internal/auth"
	"github.com/makeasinger/stemscore/internal/handler"
	"github.com/makeasinger/stemscore/internal/middleware"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/service"
	"github.com/makeasinger/stemscore/internal/workspace"
)

const testJWTSecret = "test-secret-for-e2e"

// pianoWorker writes one fully populated piano track.
const pianoWorker = `out="$4"
printf 'RIFF-piano' > "$out/piano.wav"
printf 'MThd-piano' > "$out/piano.mid"
printf '<score-partwise/>' > "$out/piano.musicxml"
printf '{"notes":[]}' > "$out/piano notes.json"
cat <<JSON
{"jobId":"$6","tracks":[{"id":"piano","label":"Piano","audio":"piano.wav","midi":"piano.mid","musicxml":"piano.musicxml","notes":"piano notes.json","noteEvents":[{"start":0,"duration":0.5,"pitchMidi":60,"pitchName":"C4","velocity":0.7}],"status":"ok"}]}
JSON`

type testApp struct {
	app   *fiber.App
	store *workspace.FSStore
}

// setupApp builds the app the same way main does, with a shell script as
// the analysis worker and in-memory job records.
func setupApp(t *testing.T, workerBody, jwtSecret string) *testApp {
	t.Helper()

	store, err := workspace.NewFSStore(filepath.Join(t.TempDir(), "storage"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	script := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+workerBody+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write worker: %v", err)
	}

	validate := validator.New()
	pipeline := service.NewPipeline(service.PipelineConfig{
		Workspaces: store,
		Acquirer: acquire.New(nil, acquire.Options{
			AllowedHosts: []string{"youtube.com", "youtu.be"},
			SniffAudio:   true,
		}),
		Invoker:   analyzer.NewCommand("/bin/sh", []string{script}, "", validate),
		Projector: results.NewProjector(""),
		Timeout:   30 * time.Second,
	})

	app := New(Deps{
		Pipeline:  pipeline,
		Gateway:   results.NewGateway(store),
		Validator: validate,
		Auth:      middleware.NewAuthMiddleware(jwtSecret),
		Health:    handler.NewHealthHandler("sh", nil, false, jwtSecret != ""),
	})

	return &testApp{app: app, store: store}
}

// wavUpload returns a minimal WAV payload that passes content sniffing.
func wavUpload() []byte {
	return append([]byte("RIFF\x00\x00\x00\x00WAVEfmt "), make([]byte, 1024)...)
}

// newProcessRequest builds a multipart submission. file is omitted when nil.
func newProcessRequest(t *testing.T, path string, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if file != nil {
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		partHeader.Set("Content-Type", "audio/wav")
		part, err := writer.CreatePart(partHeader)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(file)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doGet(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func doTest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueToken("test-user-123", "test@example.com", testJWTSecret)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// readBody reads and returns the response body.
func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return b
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
