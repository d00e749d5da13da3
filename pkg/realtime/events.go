package realtime

import "encoding/json"

// Inbound event types form a closed set. Anything outside it is handed
// to the unhandled-event callback when one is registered.
const (
	evError                  = "error"
	evSessionCreated         = "session.created"
	evSessionUpdated         = "session.updated"
	evResponseCreated        = "response.created"
	evOutputItemAdded        = "response.output_item.added"
	evResponseDone           = "response.done"
	evSpeechStarted          = "input_audio_buffer.speech_started"
	evSpeechStopped          = "input_audio_buffer.speech_stopped"
	evTextDelta              = "response.text.delta"
	evAudioDelta             = "response.audio.delta"
	evAudioTranscriptDelta   = "response.audio_transcript.delta"
	evInputTranscriptionDone = "conversation.item.input_audio_transcription.completed"
	evFunctionCallDone       = "response.function_call_arguments.done"
)

// serverEvent is the union of all inbound event payloads this client
// consumes. Fields are populated according to Type.
type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Error    *apiErrorBody `json:"error,omitempty"`
	Response *responseInfo `json:"response,omitempty"`
	Item     *itemInfo     `json:"item,omitempty"`

	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type apiErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	EventID string `json:"event_id"`
}

type responseInfo struct {
	ID string `json:"id"`
}

type itemInfo struct {
	ID string `json:"id"`
}

func parseServerEvent(data []byte) (serverEvent, error) {
	var ev serverEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// Outbound events. Each message type gets its own struct so the wire
// shape is visible at the call site.

type sessionUpdateEvent struct {
	EventID string        `json:"event_id,omitempty"`
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	// TurnDetection is serialized even when nil: an explicit null
	// disables server-side detection for manual mode.
	TurnDetection *turnDetectionConfig `json:"turn_detection"`
	Tools         []toolSchema         `json:"tools"`
	ToolChoice    string               `json:"tool_choice"`
	Temperature   float64              `json:"temperature,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetectionConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type toolSchema struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type itemCreateEvent struct {
	EventID string           `json:"event_id,omitempty"`
	Type    string           `json:"type"`
	Item    conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []itemContent `json:"content,omitempty"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type audioCommitEvent struct {
	Type string `json:"type"`
}

type responseCreateEvent struct {
	EventID  string         `json:"event_id,omitempty"`
	Type     string         `json:"type"`
	Response responseParams `json:"response"`
}

type responseParams struct {
	Modalities []string `json:"modalities"`
}

type responseCancelEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

type itemTruncateEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}
