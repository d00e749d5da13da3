package realtime

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openspoken/go-duplex/internal/log"
)

// sentRecorder captures outbound events in place of the WebSocket.
type sentRecorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *sentRecorder) write(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, v)
	return nil
}

func (r *sentRecorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func newTestClient(t *testing.T) (*Client, *sentRecorder) {
	t.Helper()

	cfg := DefaultConfig().WithAPIKey("sk-test")
	client, err := NewClient(cfg, log.L())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	rec := &sentRecorder{}
	client.writeJSON = rec.write
	client.connected = true
	return client, rec
}

func TestInterruptWhileIdleIsNoOp(t *testing.T) {
	client, rec := newTestClient(t)

	interrupted := false
	client.OnInterrupt(func() { interrupted = true })

	if err := client.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	if got := len(rec.all()); got != 0 {
		t.Fatalf("sent %d messages while idle, want 0", got)
	}
	if interrupted {
		t.Fatal("interrupt callback fired while idle")
	}
	if got := client.gen.Load(); got != 0 {
		t.Fatalf("generation bumped to %d while idle", got)
	}
}

func TestInterruptCancelsAndTruncates(t *testing.T) {
	client, rec := newTestClient(t)

	interrupted := false
	client.OnInterrupt(func() { interrupted = true })

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`))
	client.handleEvent([]byte(`{"type":"response.output_item.added","item":{"id":"item_1"}}`))

	// 42000 samples released to playback = 1750ms heard.
	client.pacer.playedSamples = 42000

	if err := client.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want cancel then truncate", len(msgs))
	}

	cancel, ok := msgs[0].(responseCancelEvent)
	if !ok {
		t.Fatalf("first message is %T, want responseCancelEvent", msgs[0])
	}
	if cancel.Type != "response.cancel" || cancel.ResponseID != "resp_1" {
		t.Fatalf("cancel = %+v", cancel)
	}

	trunc, ok := msgs[1].(itemTruncateEvent)
	if !ok {
		t.Fatalf("second message is %T, want itemTruncateEvent", msgs[1])
	}
	if trunc.Type != "conversation.item.truncate" {
		t.Fatalf("truncate type = %q", trunc.Type)
	}
	if trunc.ItemID != "item_1" || trunc.ContentIndex != 0 {
		t.Fatalf("truncate = %+v", trunc)
	}
	if trunc.AudioEndMS != 1750 {
		t.Fatalf("AudioEndMS = %d, want 1750", trunc.AudioEndMS)
	}

	if !interrupted {
		t.Fatal("interrupt callback not fired")
	}
	if sess := client.Session(); sess.Responding {
		t.Fatal("session still responding after interrupt")
	}
	if got := client.gen.Load(); got != 1 {
		t.Fatalf("generation = %d after interrupt, want 1", got)
	}
}

func TestInterruptSkipsTruncateWithoutItem(t *testing.T) {
	client, rec := newTestClient(t)

	// Response started but no output item announced yet.
	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`))

	if err := client.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want cancel only", len(msgs))
	}
	if _, ok := msgs[0].(responseCancelEvent); !ok {
		t.Fatalf("message is %T, want responseCancelEvent", msgs[0])
	}
}

func TestInterruptCallbackMayReenterClient(t *testing.T) {
	client, _ := newTestClient(t)

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_5"}}`))

	// A callback that reads client state must not deadlock against the
	// interrupt path.
	var seen Session
	client.OnInterrupt(func() { seen = client.Session() })

	done := make(chan error, 1)
	go func() { done <- client.Interrupt() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Interrupt: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt deadlocked with a reentrant callback")
	}

	if seen.Responding {
		t.Fatal("callback observed the session still responding")
	}
}

func TestInterruptPropagatesSendFailure(t *testing.T) {
	client, _ := newTestClient(t)

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_6"}}`))

	sendErr := fmt.Errorf("write: broken pipe")
	client.writeJSON = func(any) error { return sendErr }

	if err := client.Interrupt(); !errors.Is(err, sendErr) {
		t.Fatalf("Interrupt = %v, want %v", err, sendErr)
	}
}

func TestSpeechStartedTriggersInterrupt(t *testing.T) {
	client, rec := newTestClient(t)

	speechStarted := false
	client.OnSpeechStart(func() { speechStarted = true })

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_9"}}`))
	client.handleEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 cancel", len(msgs))
	}
	cancel, ok := msgs[0].(responseCancelEvent)
	if !ok || cancel.ResponseID != "resp_9" {
		t.Fatalf("message = %+v", msgs[0])
	}
	if !speechStarted {
		t.Fatal("speech-start callback not fired")
	}
}

func TestTextDeltasReachCallback(t *testing.T) {
	client, _ := newTestClient(t)

	var got strings.Builder
	client.OnText(func(delta string) { got.WriteString(delta) })

	client.handleEvent([]byte(`{"type":"response.text.delta","delta":"Hello"}`))
	client.handleEvent([]byte(`{"type":"response.audio_transcript.delta","delta":", world"}`))

	if got.String() != "Hello, world" {
		t.Fatalf("text = %q, want %q", got.String(), "Hello, world")
	}
}

func TestAudioDeltaIsPacedAndEnqueued(t *testing.T) {
	client, _ := newTestClient(t)

	pcm := make([]byte, 4000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	delta := base64.StdEncoding.EncodeToString(pcm)

	client.handleEvent([]byte(fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`, delta)))

	select {
	case pc := <-client.playCh:
		if len(pc.data) != 4000 {
			t.Fatalf("enqueued %d bytes, want 4000", len(pc.data))
		}
		if pc.gen != 0 {
			t.Fatalf("chunk generation = %d, want 0", pc.gen)
		}
	default:
		t.Fatal("no chunk enqueued for playback")
	}

	if got := client.pacer.PlayedSamples(); got != 2000 {
		t.Fatalf("PlayedSamples() = %d, want 2000", got)
	}
}

func TestResponseDoneFlushesTrailingAudio(t *testing.T) {
	client, _ := newTestClient(t)

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_2"}}`))

	// Below the release threshold: held until the response completes.
	small := base64.StdEncoding.EncodeToString(make([]byte, 800))
	client.handleEvent([]byte(fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`, small)))

	select {
	case <-client.playCh:
		t.Fatal("sub-threshold audio released early")
	default:
	}

	client.handleEvent([]byte(`{"type":"response.done"}`))

	select {
	case pc := <-client.playCh:
		if len(pc.data) != 800 {
			t.Fatalf("flushed %d bytes, want 800", len(pc.data))
		}
	default:
		t.Fatal("trailing audio dropped at response.done")
	}

	if sess := client.Session(); sess.Responding {
		t.Fatal("session still responding after response.done")
	}
}

func TestSessionTracksResponseLifecycle(t *testing.T) {
	client, _ := newTestClient(t)

	client.handleEvent([]byte(`{"type":"response.created","response":{"id":"resp_3"}}`))
	sess := client.Session()
	if !sess.Responding || sess.ResponseID != "resp_3" {
		t.Fatalf("session after response.created = %+v", sess)
	}

	client.handleEvent([]byte(`{"type":"response.output_item.added","item":{"id":"item_3"}}`))
	sess = client.Session()
	if sess.ItemID != "item_3" {
		t.Fatalf("ItemID = %q, want item_3", sess.ItemID)
	}

	client.handleEvent([]byte(`{"type":"response.done"}`))
	sess = client.Session()
	if sess.Responding || sess.ResponseID != "" || sess.ItemID != "" {
		t.Fatalf("session after response.done = %+v", sess)
	}
}

func TestToolCallSubmitsHandlerOutput(t *testing.T) {
	client, rec := newTestClient(t)

	client.RegisterTool(Tool{
		Name:        "lookup",
		Description: "test tool",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(args map[string]any) (string, error) {
			if q, _ := args["query"].(string); q != "capital of France" {
				return "", fmt.Errorf("unexpected query %q", q)
			}
			return "ANSWER", nil
		},
	})

	client.runToolCall("call_1", "lookup", `{"query":"capital of France"}`)

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want output then response.create", len(msgs))
	}

	item, ok := msgs[0].(itemCreateEvent)
	if !ok {
		t.Fatalf("first message is %T, want itemCreateEvent", msgs[0])
	}
	if item.Item.Type != "function_call_output" || item.Item.CallID != "call_1" {
		t.Fatalf("item = %+v", item.Item)
	}
	if item.Item.Output != "ANSWER" {
		t.Fatalf("output = %q, want ANSWER", item.Item.Output)
	}

	if _, ok := msgs[1].(responseCreateEvent); !ok {
		t.Fatalf("second message is %T, want responseCreateEvent", msgs[1])
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	client, rec := newTestClient(t)

	var reported error
	client.OnError(func(err error) { reported = err })

	client.runToolCall("call_2", "nope", `{}`)

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	item := msgs[0].(itemCreateEvent)
	if item.Item.Output != `Error: unknown tool "nope"` {
		t.Fatalf("output = %q", item.Item.Output)
	}
	if !errors.Is(reported, ErrUnknownTool) {
		t.Fatalf("reported error = %v, want ErrUnknownTool", reported)
	}
}

func TestToolCallMalformedArguments(t *testing.T) {
	client, rec := newTestClient(t)

	var reported error
	client.OnError(func(err error) { reported = err })

	client.RegisterTool(Tool{
		Name:    "lookup",
		Handler: func(map[string]any) (string, error) { return "unused", nil },
	})

	client.runToolCall("call_3", "lookup", `{not json`)

	msgs := rec.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	item := msgs[0].(itemCreateEvent)
	if item.Item.Output != "Error: malformed tool arguments" {
		t.Fatalf("output = %q", item.Item.Output)
	}
	if !errors.Is(reported, ErrMalformedToolArgs) {
		t.Fatalf("reported error = %v, want ErrMalformedToolArgs", reported)
	}
}

func TestToolCallHandlerError(t *testing.T) {
	client, rec := newTestClient(t)

	client.RegisterTool(Tool{
		Name: "flaky",
		Handler: func(map[string]any) (string, error) {
			return "", fmt.Errorf("backend unavailable")
		},
	})

	client.runToolCall("call_4", "flaky", `{}`)

	item := rec.all()[0].(itemCreateEvent)
	if item.Item.Output != "Error: backend unavailable" {
		t.Fatalf("output = %q", item.Item.Output)
	}
}

func TestOnToolCallOverridesDispatch(t *testing.T) {
	client, rec := newTestClient(t)

	calls := make(chan ToolCall, 1)
	client.OnToolCall(func(call ToolCall) { calls <- call })

	client.handleEvent([]byte(`{"type":"response.function_call_arguments.done","call_id":"c9","name":"lookup","arguments":"{\"query\":\"x\"}"}`))

	select {
	case call := <-calls:
		if call.ID != "c9" || call.Name != "lookup" {
			t.Fatalf("call = %+v", call)
		}
		if q, _ := call.Arguments["query"].(string); q != "x" {
			t.Fatalf("arguments = %+v", call.Arguments)
		}
	case <-time.After(time.Second):
		t.Fatal("tool-call callback not invoked")
	}

	// The override owns result submission; nothing sent automatically.
	if got := len(rec.all()); got != 0 {
		t.Fatalf("sent %d messages with override installed, want 0", got)
	}
}

func TestRemoteErrorReachesErrorCallback(t *testing.T) {
	client, _ := newTestClient(t)

	var reported error
	client.OnError(func(err error) { reported = err })

	client.handleEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"broken"}}`))

	var apiErr *APIError
	if !errors.As(reported, &apiErr) {
		t.Fatalf("reported error = %T, want *APIError", reported)
	}
	if apiErr.Code != "bad" || apiErr.Message != "broken" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestTranscriptCallback(t *testing.T) {
	client, _ := newTestClient(t)

	var got string
	client.OnTranscript(func(text string) { got = text })

	client.handleEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`))

	if got != "hello there" {
		t.Fatalf("transcript = %q", got)
	}
}

func TestUnhandledEventCallback(t *testing.T) {
	client, _ := newTestClient(t)

	var kind string
	client.OnUnhandled(func(k string, raw []byte) { kind = k })

	client.handleEvent([]byte(`{"type":"rate_limits.updated"}`))

	if kind != "rate_limits.updated" {
		t.Fatalf("unhandled kind = %q", kind)
	}
}

func TestSendAudioRequiresConnection(t *testing.T) {
	cfg := DefaultConfig().WithAPIKey("sk-test")
	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.SendAudio([]byte{0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendAudio = %v, want ErrNotConnected", err)
	}
}

func TestSendUtteranceSequence(t *testing.T) {
	client, rec := newTestClient(t)

	pcm := make([]byte, 640)
	if err := client.SendUtterance(pcm); err != nil {
		t.Fatalf("SendUtterance: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want append, commit, response.create", len(msgs))
	}

	app, ok := msgs[0].(audioAppendEvent)
	if !ok || app.Type != "input_audio_buffer.append" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if app.Audio != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatal("append payload is not the base64 utterance")
	}

	commit, ok := msgs[1].(audioCommitEvent)
	if !ok || commit.Type != "input_audio_buffer.commit" {
		t.Fatalf("second message = %+v", msgs[1])
	}

	if _, ok := msgs[2].(responseCreateEvent); !ok {
		t.Fatalf("third message is %T, want responseCreateEvent", msgs[2])
	}
}
