package cluster

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/alloy/pkg/alloy"
)

func listing(ids ...string) *alloy.ModelsResponse {
	resp := &alloy.ModelsResponse{}
	for _, id := range ids {
		resp.Text = append(resp.Text, alloy.Model{ModelID: id, IsSupported: true})
	}
	return resp
}

// TestModelRegistryServes covers never-indexed, indexed and unsupported
// models.
func TestModelRegistryServes(t *testing.T) {
	r := NewModelRegistry(testNodes("http://a", "http://b"))

	assert.True(t, r.Serves("http://a", "llama"), "never indexed node serves anything")
	assert.False(t, r.Serves("http://unknown", "llama"))

	resp := listing("llama")
	resp.Image = []alloy.Model{{ModelID: "flux", IsSupported: false}}
	r.Update("http://a", resp, time.Now())

	assert.True(t, r.Serves("http://a", "llama"))
	assert.False(t, r.Serves("http://a", "flux"), "listed but unsupported")
	assert.False(t, r.Serves("http://a", "qwen"))
	assert.True(t, r.Serves("http://a", ""), "no model named")
	assert.True(t, r.Serves("http://b", "qwen"))
	assert.Equal(t, 1, r.SupportedCount("http://a"))
}

// TestModelRegistryMarkError keeps the last good index after a failed refresh.
func TestModelRegistryMarkError(t *testing.T) {
	r := NewModelRegistry(testNodes("http://a"))
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r.Update("http://a", listing("llama"), at)

	r.MarkError("http://a", errors.New("connection refused"))

	refreshed, lastErr := r.RefreshedAt("http://a")
	assert.Equal(t, at, refreshed)
	assert.Equal(t, "connection refused", lastErr)
	assert.True(t, r.Serves("http://a", "llama"))

	r.Update("http://a", listing("llama"), at.Add(time.Minute))
	_, lastErr = r.RefreshedAt("http://a")
	assert.Empty(t, lastErr)
}

// TestIndexModelsFillsCapabilities verifies that a model listed in several
// categories keeps its first entry and gains missing capabilities.
func TestIndexModelsFillsCapabilities(t *testing.T) {
	caps := []alloy.ModelCapability{{Inputs: []alloy.Modality{alloy.ModalityText}, Outputs: []alloy.Modality{alloy.ModalityAudio}}}
	resp := &alloy.ModelsResponse{
		Audio: []alloy.Model{{ModelID: "tts", IsSupported: true, ActiveRequests: 2}},
		Text:  []alloy.Model{{ModelID: "tts", Capabilities: caps}},
	}

	models := indexModels(resp)
	assert.Len(t, models, 1)
	assert.Equal(t, 2, models["tts"].ActiveRequests)
	assert.True(t, models["tts"].IsSupported)
	assert.Equal(t, caps, models["tts"].Capabilities)

	caps[0].Name = "changed"
	assert.Empty(t, models["tts"].Capabilities[0].Name)
}
