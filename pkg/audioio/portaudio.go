//go:build cgo

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

const portaudioAvailable = true

// PortAudio global init is reference-counted so a source and a sink can
// share the library lifetime.
var (
	paMu   sync.Mutex
	paRefs int
)

func paAcquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	paRefs++
	return nil
}

func paRelease() {
	paMu.Lock()
	defer paMu.Unlock()
	paRefs--
	if paRefs == 0 {
		portaudio.Terminate()
	}
}

// portAudioSource captures microphone audio via PortAudio.
type portAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	buf      []int16
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}
	return &portAudioSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start opens the default input device and begins capture.
func (s *portAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)

	stream, err := portaudio.OpenDefaultStream(
		s.cfg.Channels, 0,
		float64(s.cfg.SampleRate),
		s.cfg.BufferSize(),
		s.buf,
	)
	if err != nil {
		return fmt.Errorf("portaudio open input: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio start input: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)

	go s.captureLoop(ctx)

	s.logger.Info("portaudio capture started",
		"sample_rate", s.cfg.SampleRate,
		"buffer_ms", s.cfg.BufferDuration.Milliseconds(),
	)

	return nil
}

func (s *portAudioSource) captureLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			// Overflow means the device produced faster than we read;
			// log and keep capturing.
			if err == portaudio.InputOverflowed {
				s.overruns.Add(1)
				continue
			}
			s.logger.Warn("portaudio read failed", "error", err)
			s.Stop()
			return
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)

		chunk := AudioChunk{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}

		select {
		case s.streamCh <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop halts capture.
func (s *portAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.stopCh)
	close(s.streamCh)

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}

	return nil
}

// Read returns the next captured chunk.
func (s *portAudioSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (s *portAudioSource) Config() Config { return s.cfg }
func (s *portAudioSource) Name() string   { return "portaudio" }

func (s *portAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	paRelease()
	return nil
}

func (s *portAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

var _ SourceWithStats = (*portAudioSource)(nil)

// portAudioSink plays audio via PortAudio using a pull callback that
// drains a pending-sample queue; an empty queue plays silence, and
// Clear simply truncates the queue for immediate stop.
type portAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	pending []int16

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newPortAudioSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := paAcquire(); err != nil {
		return nil, err
	}
	return &portAudioSink{cfg: cfg, logger: logger}, nil
}

// Start opens the default output device.
func (s *portAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(
		0, s.cfg.Channels,
		float64(s.cfg.SampleRate),
		s.cfg.BufferSize(),
		s.fill,
	)
	if err != nil {
		return fmt.Errorf("portaudio open output: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio start output: %w", err)
	}

	s.stream = stream
	s.running = true

	s.logger.Info("portaudio playback started", "sample_rate", s.cfg.SampleRate)

	return nil
}

// fill is the PortAudio pull callback.
func (s *portAudioSink) fill(out []int16) {
	s.mu.Lock()
	n := copy(out, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if n > 0 && n < len(out) {
		s.underruns.Add(1)
	}
}

// Stop halts playback.
func (s *portAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
	s.pending = nil

	return nil
}

// Write enqueues a chunk for playback.
func (s *portAudioSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}

	s.pending = append(s.pending, chunk.Samples...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Flush waits for the queue to drain.
func (s *portAudioSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		remaining := len(s.pending)
		s.mu.Unlock()

		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear discards queued audio immediately.
func (s *portAudioSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

func (s *portAudioSink) Config() Config { return s.cfg }
func (s *portAudioSink) Name() string   { return "portaudio" }

func (s *portAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	paRelease()
	return nil
}

func (s *portAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := int64(len(s.pending))
	s.mu.Unlock()

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         "portaudio",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*portAudioSink)(nil)
