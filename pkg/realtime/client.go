// Package realtime implements a client for OpenAI's Realtime API for
// low-latency speech-to-speech conversation with interruption handling
// and tool use.
//
// The client owns three concerns beyond plain transport plumbing: the
// turn/interruption state machine (Session), the audio release cadence
// (Pacer), and tool-call dispatch. Inbound events are processed
// strictly in arrival order on a single reader goroutine; paced audio
// is handed to a separate playback goroutine so the smoothing delay
// never stalls event dispatch.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pacedChunk travels from the dispatch goroutine to the playback
// goroutine. gen tags the chunk with the interruption generation it was
// released under; stale chunks are dropped instead of played.
type pacedChunk struct {
	data  []byte
	delay time.Duration
	gen   int64
}

// Client manages the WebSocket connection to the realtime service.
type Client struct {
	cfg    Config
	logger *slog.Logger

	ws        *websocket.Conn
	wsMu      sync.Mutex
	writeJSON func(v any) error

	tools    []Tool
	toolsMap map[string]Tool

	mu        sync.Mutex
	connected bool
	closed    bool
	sess      Session

	pacer  *Pacer
	playCh chan pacedChunk
	gen    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// Callbacks
	onText        func(delta string)
	onTranscript  func(text string)
	onAudio       func(pcm []byte)
	onInterrupt   func()
	onSpeechStart func()
	onSpeechStop  func()
	onToolCall    func(call ToolCall)
	onError       func(err error)
	onUnhandled   func(kind string, raw []byte)
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		toolsMap: make(map[string]Tool),
		pacer:    NewPacer(cfg.MinChunkBytes, cfg.PlaybackRate),
		playCh:   make(chan pacedChunk, 256),
	}, nil
}

// Callback setters. Set these before Connect.

// OnText sets the callback for streamed assistant text deltas.
func (c *Client) OnText(fn func(delta string)) { c.onText = fn }

// OnTranscript sets the callback for completed input transcriptions.
func (c *Client) OnTranscript(fn func(text string)) { c.onTranscript = fn }

// OnAudio sets the callback for paced playback audio (PCM16, 24kHz).
func (c *Client) OnAudio(fn func(pcm []byte)) { c.onAudio = fn }

// OnInterrupt sets the callback invoked when an in-flight response is
// interrupted. Use it to stop the playback device immediately.
func (c *Client) OnInterrupt(fn func()) { c.onInterrupt = fn }

// OnSpeechStart sets the callback for remote speech-start detection.
func (c *Client) OnSpeechStart(fn func()) { c.onSpeechStart = fn }

// OnSpeechStop sets the callback for remote speech-stop detection.
func (c *Client) OnSpeechStop(fn func()) { c.onSpeechStop = fn }

// OnToolCall overrides internal tool dispatch. The callback must send
// the result via SubmitToolResult.
func (c *Client) OnToolCall(fn func(call ToolCall)) { c.onToolCall = fn }

// OnError sets the callback for asynchronous errors. Remote protocol
// errors and tool failures are recoverable; a read failure terminates
// the session.
func (c *Client) OnError(fn func(err error)) { c.onError = fn }

// OnUnhandled sets the callback for event types outside the consumed
// set, receiving the raw JSON payload.
func (c *Client) OnUnhandled(fn func(kind string, raw []byte)) { c.onUnhandled = fn }

// RegisterTool adds a tool the model can invoke. Must be called before
// Connect so the tool schema is included in the session configuration.
func (c *Client) RegisterTool(tool Tool) {
	c.tools = append(c.tools, tool)
	c.toolsMap[tool.Name] = tool
}

// Session returns a snapshot of the current turn state.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Connect establishes the WebSocket connection, configures the remote
// session, and starts the reader and playback goroutines.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	url := fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)
	header := map[string][]string{
		"Authorization": {"Bearer " + c.cfg.APIKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(c.ctx, url, header)
	if err != nil {
		return fmt.Errorf("realtime: failed to connect: %w", err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.closed = false
	c.mu.Unlock()

	c.writeJSON = func(v any) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteJSON(v)
	}

	if err := c.configureSession(); err != nil {
		c.Close()
		return fmt.Errorf("realtime: failed to configure session: %w", err)
	}

	go c.readLoop()
	go c.playbackLoop()
	go c.keepAlive()

	c.logger.Info("realtime session connecting",
		"model", c.cfg.Model,
		"turn_mode", string(c.cfg.TurnMode),
	)

	return nil
}

// Close tears down the connection and unblocks all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	ws := c.ws
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// configureSession pushes the session settings from Config.
func (c *Client) configureSession() error {
	schemas := make([]toolSchema, len(c.tools))
	for i, tool := range c.tools {
		schemas[i] = toolSchema{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		}
	}

	session := sessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      c.cfg.Instructions,
		Voice:             c.cfg.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		Tools:             schemas,
		ToolChoice:        "auto",
		Temperature:       c.cfg.Temperature,
	}

	if c.cfg.TranscriptionModel != "" {
		session.InputAudioTranscription = &transcriptionConfig{Model: c.cfg.TranscriptionModel}
	}

	// Manual mode sends an explicit null so the server never segments
	// turns on its own.
	if c.cfg.TurnMode == TurnDetectionServer {
		session.TurnDetection = &turnDetectionConfig{
			Type:              "server_vad",
			Threshold:         c.cfg.VADThreshold,
			PrefixPaddingMS:   int(c.cfg.VADPrefixPadding.Milliseconds()),
			SilenceDurationMS: int(c.cfg.VADSilenceDuration.Milliseconds()),
		}
	}

	return c.send(sessionUpdateEvent{
		EventID: newEventID(),
		Type:    "session.update",
		Session: session,
	})
}

// SendAudio streams a PCM16 frame into the remote input buffer.
func (c *Client) SendAudio(pcm16 []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm16),
	})
}

// SendUtterance sends a complete utterance in manual mode: append,
// commit, then request a response.
func (c *Client) SendUtterance(pcm16 []byte) error {
	if err := c.SendAudio(pcm16); err != nil {
		return err
	}
	if err := c.send(audioCommitEvent{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return c.CreateResponse()
}

// SendText sends a user text message and requests a response.
func (c *Client) SendText(text string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	err := c.send(itemCreateEvent{
		EventID: newEventID(),
		Type:    "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []itemContent{
				{Type: "input_text", Text: text},
			},
		},
	})
	if err != nil {
		return err
	}
	return c.CreateResponse()
}

// CreateResponse asks the model to produce a response.
func (c *Client) CreateResponse() error {
	return c.send(responseCreateEvent{
		EventID:  newEventID(),
		Type:     "response.create",
		Response: responseParams{Modalities: []string{"text", "audio"}},
	})
}

// SubmitToolResult sends a tool output for the given call and requests
// the follow-up response; the remote side does not continue on its own
// after a tool result.
func (c *Client) SubmitToolResult(callID, output string) error {
	err := c.send(itemCreateEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
	if err != nil {
		return err
	}
	return c.CreateResponse()
}

// Interrupt cancels the in-flight response, if any. On the wire the
// sequence is: cancel the response, then truncate the conversation item
// to the audio duration actually played; the interrupt callback fires
// after both. The turn state is claimed atomically up front, so a
// second concurrent Interrupt is a no-op. A no-op when nothing is being
// generated.
//
// Truncation uses played duration, not received duration: audio is
// buffered ahead of playback, and truncating by received bytes would
// drop audio the user never heard from the remote conversation history.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	if !c.sess.Responding {
		c.mu.Unlock()
		return nil
	}

	// Queued playback is stale from this point on.
	c.gen.Add(1)

	sess := c.sess
	playedMS := c.pacer.PlayedMilliseconds()
	c.sess.clear()
	c.mu.Unlock()

	// The lock is released before sending and before the callback so a
	// callback may call back into the client.
	if err := c.send(responseCancelEvent{
		Type:       "response.cancel",
		ResponseID: sess.ResponseID,
	}); err != nil {
		return err
	}

	if sess.ItemID != "" {
		if err := c.send(itemTruncateEvent{
			Type:         "conversation.item.truncate",
			ItemID:       sess.ItemID,
			ContentIndex: sess.ContentIndex,
			AudioEndMS:   playedMS,
		}); err != nil {
			return err
		}
	}

	if c.onInterrupt != nil {
		c.onInterrupt()
	}

	return nil
}

// readLoop consumes inbound events strictly in arrival order.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.connected = false
			c.mu.Unlock()

			// A dropped transport terminates the session; there is no
			// automatic reconnect.
			if !closed {
				c.reportError(fmt.Errorf("realtime: connection closed: %w", err))
				c.Close()
			}
			return
		}

		c.handleEvent(message)
	}
}

// handleEvent dispatches one inbound event to its handler.
func (c *Client) handleEvent(message []byte) {
	ev, err := parseServerEvent(message)
	if err != nil {
		c.logger.Warn("realtime: dropping undecodable event", "error", err)
		return
	}

	if c.cfg.Debug {
		c.logger.Debug("realtime event", "type", ev.Type)
	}

	switch ev.Type {
	case evError:
		c.handleError(ev)

	case evSessionCreated:
		c.logger.Info("realtime session created")

	case evSessionUpdated:
		// Configuration confirmed.

	case evResponseCreated:
		c.handleResponseCreated(ev)

	case evOutputItemAdded:
		c.handleOutputItemAdded(ev)

	case evResponseDone:
		c.handleResponseDone()

	case evSpeechStarted:
		c.handleSpeechStarted()

	case evSpeechStopped:
		if c.onSpeechStop != nil {
			c.onSpeechStop()
		}

	case evTextDelta, evAudioTranscriptDelta:
		if ev.Delta != "" && c.onText != nil {
			c.onText(ev.Delta)
		}

	case evAudioDelta:
		c.handleAudioDelta(ev)

	case evInputTranscriptionDone:
		if ev.Transcript != "" && c.onTranscript != nil {
			c.onTranscript(ev.Transcript)
		}

	case evFunctionCallDone:
		c.handleFunctionCall(ev)

	default:
		if c.onUnhandled != nil && ev.Type != "" {
			c.onUnhandled(ev.Type, message)
		}
	}
}

func (c *Client) handleError(ev serverEvent) {
	apiErr := &APIError{}
	if ev.Error != nil {
		apiErr.Type = ev.Error.Type
		apiErr.Code = ev.Error.Code
		apiErr.Message = ev.Error.Message
		apiErr.EventID = ev.Error.EventID
	}
	c.reportError(apiErr)
}

func (c *Client) handleResponseCreated(ev serverEvent) {
	c.mu.Lock()
	id := ""
	if ev.Response != nil {
		id = ev.Response.ID
	}
	c.sess.begin(id)
	c.mu.Unlock()

	c.pacer.Reset()
}

func (c *Client) handleOutputItemAdded(ev serverEvent) {
	c.mu.Lock()
	if ev.Item != nil {
		c.sess.itemAdded(ev.Item.ID)
	}
	c.mu.Unlock()
}

func (c *Client) handleResponseDone() {
	// Trailing audio below the release threshold would otherwise be
	// silently dropped.
	if chunk, ok := c.pacer.Flush(); ok {
		c.enqueue(chunk)
	}

	c.mu.Lock()
	c.sess.clear()
	c.mu.Unlock()
}

func (c *Client) handleSpeechStarted() {
	if err := c.Interrupt(); err != nil {
		c.reportError(err)
	}
	if c.onSpeechStart != nil {
		c.onSpeechStart()
	}
}

func (c *Client) handleAudioDelta(ev serverEvent) {
	raw, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		c.reportError(fmt.Errorf("realtime: bad audio delta encoding: %w", err))
		return
	}

	if chunk, ok := c.pacer.Push(raw); ok {
		c.enqueue(chunk)
	}
}

// enqueue hands a released chunk to the playback goroutine without
// blocking event dispatch on the pacing delay.
func (c *Client) enqueue(chunk Chunk) {
	pc := pacedChunk{data: chunk.Data, delay: chunk.Delay, gen: c.gen.Load()}

	if c.ctx == nil {
		// Not connected (tests drive dispatch directly); buffered send.
		c.playCh <- pc
		return
	}

	select {
	case c.playCh <- pc:
	case <-c.ctx.Done():
	}
}

// playbackLoop drains paced chunks, applies the smoothing delay, and
// invokes the audio callback. Chunks superseded by an interruption are
// dropped.
func (c *Client) playbackLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case pc := <-c.playCh:
			if pc.gen != c.gen.Load() {
				continue
			}
			if pc.delay > 0 {
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(pc.delay):
				}
			}
			if pc.gen != c.gen.Load() {
				continue
			}
			if c.onAudio != nil {
				c.onAudio(pc.data)
			}
		}
	}
}

// handleFunctionCall dispatches a completed tool call. The handler runs
// off the read loop so slow tools cannot stall audio dispatch.
func (c *Client) handleFunctionCall(ev serverEvent) {
	if c.onToolCall != nil {
		args, err := parseToolArgs(ev.Arguments)
		if err != nil {
			c.reportError(fmt.Errorf("%w: %s: %v", ErrMalformedToolArgs, ev.Name, err))
			args = map[string]any{}
		}
		call := ToolCall{ID: ev.CallID, Name: ev.Name, Arguments: args}
		go c.onToolCall(call)
		return
	}

	go c.runToolCall(ev.CallID, ev.Name, ev.Arguments)
}

// runToolCall executes a registered tool and submits its output.
func (c *Client) runToolCall(callID, name, rawArgs string) {
	output := c.invokeTool(name, rawArgs)
	if err := c.SubmitToolResult(callID, output); err != nil {
		c.reportError(fmt.Errorf("realtime: failed to send tool result: %w", err))
	}
}

// invokeTool resolves and runs a tool. Failures come back as an error
// string so the conversation gets a chance to continue.
func (c *Client) invokeTool(name, rawArgs string) string {
	args, err := parseToolArgs(rawArgs)
	if err != nil {
		c.reportError(fmt.Errorf("%w: %s: %v", ErrMalformedToolArgs, name, err))
		return "Error: malformed tool arguments"
	}

	tool, ok := c.toolsMap[name]
	if !ok || tool.Handler == nil {
		c.reportError(fmt.Errorf("%w: %q", ErrUnknownTool, name))
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	result, err := tool.Handler(args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

func parseToolArgs(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// keepAlive pings periodically so idle sessions are not dropped.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.wsMu.Lock()
			if c.ws != nil {
				deadline := time.Now().Add(10 * time.Second)
				if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.wsMu.Unlock()
					return
				}
			}
			c.wsMu.Unlock()
		}
	}
}

// send writes one outbound event.
func (c *Client) send(v any) error {
	if c.writeJSON == nil {
		return ErrNotConnected
	}
	return c.writeJSON(v)
}

func (c *Client) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
		return
	}
	c.logger.Error("realtime error", "error", err)
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
