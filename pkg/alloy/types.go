package alloy

import (
	"encoding/json"
	"time"
)

// Modality is an input or output kind a model works with.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
)

// Modalities lists every category a /models response groups models by,
// in the order the server emits them.
var Modalities = []Modality{ModalityImage, ModalityAudio, ModalityVideo, ModalityText}

// AllocationStatus reports whether a model is loaded on a server.
type AllocationStatus string

const (
	AllocationAllocated   AllocationStatus = "allocated"
	AllocationQueue       AllocationStatus = "queue"
	AllocationDeallocated AllocationStatus = "deallocated"
)

// ModelCapability describes one input → output transformation a model offers.
type ModelCapability struct {
	Inputs  []Modality `json:"inputs" yaml:"inputs"`
	Outputs []Modality `json:"outputs" yaml:"outputs"`
	Name    string     `json:"name,omitempty" yaml:"name,omitempty"`
}

// Model is one entry of a /models listing.
type Model struct {
	ModelID                    string            `json:"model_id" yaml:"model_id"`
	ActiveRequests             int               `json:"active_requests" yaml:"active_requests"`
	IsSupported                bool              `json:"is_supported" yaml:"is_supported"`
	SupportsConcurrentRequests bool              `json:"supports_concurrent_requests" yaml:"supports_concurrent_requests"`
	Capabilities               []ModelCapability `json:"capabilities" yaml:"capabilities"`
	AllocationStatus           AllocationStatus  `json:"allocation_status" yaml:"allocation_status"`
}

// ModelsResponse groups a server's models by output category.
// A model may appear in more than one category.
type ModelsResponse struct {
	Image []Model `json:"image" yaml:"image"`
	Audio []Model `json:"audio" yaml:"audio"`
	Video []Model `json:"video" yaml:"video"`
	Text  []Model `json:"text" yaml:"text"`
}

// Category returns the listing for one modality.
func (r *ModelsResponse) Category(m Modality) []Model {
	switch m {
	case ModalityImage:
		return r.Image
	case ModalityAudio:
		return r.Audio
	case ModalityVideo:
		return r.Video
	case ModalityText:
		return r.Text
	}
	return nil
}

// SetCategory replaces the listing for one modality.
func (r *ModelsResponse) SetCategory(m Modality, models []Model) {
	switch m {
	case ModalityImage:
		r.Image = models
	case ModalityAudio:
		r.Audio = models
	case ModalityVideo:
		r.Video = models
	case ModalityText:
		r.Text = models
	}
}

// Message is one chat turn.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and its arguments.
type ToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string        `json:"type,omitempty"`
	Function *ToolFunction `json:"function,omitempty"`
}

// ToolFunction is the schema of a callable tool. Parameters holds a JSON
// schema object.
type ToolFunction struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// Think is either a bool or one of "low", "medium", "high".
	Think     any             `json:"think,omitempty"`
	Tools     []Tool          `json:"tools,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Stream    bool            `json:"stream"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Model              string  `json:"model,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
	Done               bool    `json:"done,omitempty"`
	DoneReason         string  `json:"done_reason,omitempty"`
	TotalDuration      int64   `json:"total_duration,omitempty"`
	LoadDuration       int64   `json:"load_duration,omitempty"`
	PromptEvalCount    int     `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64   `json:"prompt_eval_duration,omitempty"`
	EvalCount          int     `json:"eval_count,omitempty"`
	EvalDuration       int64   `json:"eval_duration,omitempty"`
	Message            Message `json:"message"`
}

// ImageRequest is the body of POST /image. Params are merged into the
// top-level JSON object next to model_id and prompt.
type ImageRequest struct {
	ModelID      string
	Prompt       string
	Params       map[string]any
	DecodeImages bool
	// Timeout overrides the client timeout for this call when non-zero.
	Timeout time.Duration
}

func (r *ImageRequest) payload() map[string]any {
	body := make(map[string]any, len(r.Params)+3)
	for k, v := range r.Params {
		body[k] = v
	}
	body["model_id"] = r.ModelID
	body["prompt"] = r.Prompt
	body["stream"] = false
	return body
}

// ImageResponse holds the decoded /image result. Fields carries the full JSON
// object; Images is filled with raw image bytes when decoding was requested.
type ImageResponse struct {
	Fields map[string]any
	Images [][]byte
}

// AudioRequest is the body of POST /audio.
type AudioRequest struct {
	ModelID   string        `json:"model_id"`
	Text      string        `json:"text"`
	Language  string        `json:"language,omitempty"`
	Speaker   string        `json:"speaker,omitempty"`
	Instruct  string        `json:"instruct,omitempty"`
	RefAudio  string        `json:"ref_audio,omitempty"`
	RefText   string        `json:"ref_text,omitempty"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Stream    bool          `json:"stream"`
	Timeout   time.Duration `json:"-"`
}

// AudioResponse is the body returned by POST /audio.
type AudioResponse struct {
	Outputs    []json.RawMessage `json:"outputs"`
	SampleRate int               `json:"sample_rate"`
}
