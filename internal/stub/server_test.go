package stub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/alloy/pkg/alloy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const fixture = `
text:
  - model_id: llama3
    is_supported: true
    supports_concurrent_requests: true
    allocation_status: allocated
    capabilities:
      - inputs: [text]
        outputs: [text]
image:
  - model_id: flux
    is_supported: true
    allocation_status: queue
`

// TestStubServesClient drives every endpoint through the real HTTP client.
func TestStubServesClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	models, err := LoadModels(path)
	require.NoError(t, err)

	srv := httptest.NewServer(New(Options{Name: "gpu-a", Models: models, Logger: quietLogger()}))
	defer srv.Close()
	client := alloy.NewHTTPClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	listed, err := client.Models(ctx)
	require.NoError(t, err)
	require.Len(t, listed.Text, 1)
	assert.Equal(t, "llama3", listed.Text[0].ModelID)
	assert.Equal(t, alloy.AllocationAllocated, listed.Text[0].AllocationStatus)
	assert.Equal(t, []alloy.Modality{alloy.ModalityText}, listed.Text[0].Capabilities[0].Inputs)
	assert.Equal(t, "flux", listed.Image[0].ModelID)

	chat, err := client.Chat(ctx, &alloy.ChatRequest{Model: "llama3", Messages: []alloy.Message{{Role: "user", Content: "ping"}}})
	require.NoError(t, err)
	assert.Equal(t, "gpu-a: ping", chat.Message.Content)

	img, err := client.Image(ctx, &alloy.ImageRequest{ModelID: "flux", Prompt: "cat", DecodeImages: true})
	require.NoError(t, err)
	require.Len(t, img.Images, 1)
	assert.Equal(t, []byte("cat"), img.Images[0])
	assert.Equal(t, "gpu-a", img.Fields["node"])

	audio, err := client.Audio(ctx, &alloy.AudioRequest{ModelID: "tts", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 24000, audio.SampleRate)
	assert.Len(t, audio.Outputs, 1)
}

// TestStubFailureInjection switches failures on and off at runtime.
func TestStubFailureInjection(t *testing.T) {
	s := New(Options{Name: "gpu-b", FailStatus: http.StatusServiceUnavailable, Logger: quietLogger()})
	srv := httptest.NewServer(s)
	defer srv.Close()
	client := alloy.NewHTTPClient(srv.URL, 5*time.Second)

	_, err := client.Models(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, alloy.StatusCode(err))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is never failed")

	s.SetFailStatus(0)
	_, err = client.Models(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, s.Calls("models"))
}

// TestStubLatency makes the client hit its timeout.
func TestStubLatency(t *testing.T) {
	s := New(Options{Logger: quietLogger()})
	s.SetLatency(200 * time.Millisecond)
	srv := httptest.NewServer(s)
	defer srv.Close()

	_, err := alloy.NewHTTPClient(srv.URL, 20*time.Millisecond).Models(context.Background())
	assert.True(t, alloy.IsTimeout(err))
}

func TestStubRejectsStreaming(t *testing.T) {
	srv := httptest.NewServer(New(Options{Logger: quietLogger()}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"model":"m","messages":[],"stream":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadModelsErrors(t *testing.T) {
	_, err := LoadModels(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "read models fixture")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("text: ["), 0o600))
	_, err = LoadModels(path)
	assert.ErrorContains(t, err, "parse models fixture")
}
