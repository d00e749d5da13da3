package realtime

import (
	"sync"
	"time"
)

// Chunk is a run of PCM16 audio released by the Pacer for playback.
// Delay is the smoothing pause to insert before handing the bytes to
// the playback device; it must be applied on the playback path, never
// on the event-dispatch path.
type Chunk struct {
	Data  []byte
	Delay time.Duration
}

// Pacer converts a firehose of small inbound audio deltas into
// playback-sized chunks released at a cadence that tracks wall-clock
// audio duration. It also maintains the played-sample count that
// interruption truncation depends on: samples are counted when bytes
// are released to playback, not when they arrive, so that truncating
// after an interruption reflects only what the user actually heard.
type Pacer struct {
	mu sync.Mutex

	minChunk       int
	bytesPerSecond int
	rate           float64

	buf           []byte
	lastRelease   time.Time
	playedSamples int64

	now func() time.Time // injectable for tests
}

// NewPacer creates a Pacer. minChunk is the smallest release in bytes,
// rate the cadence factor (slightly below 1.0 keeps playback marginally
// ahead of generation).
func NewPacer(minChunk int, rate float64) *Pacer {
	if minChunk <= 0 {
		minChunk = DefaultMinChunkBytes
	}
	if rate <= 0 || rate > 1 {
		rate = DefaultPlaybackRate
	}
	return &Pacer{
		minChunk:       minChunk,
		bytesPerSecond: BytesPerSecond,
		rate:           rate,
		now:            time.Now,
	}
}

// Push appends an inbound audio delta and reports whether a chunk is
// ready for release. A chunk is released when the buffer has reached
// the minimum size and enough wall-clock time has passed to cover the
// buffered audio at the configured rate.
func (p *Pacer) Push(data []byte) (Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)

	if len(p.buf) < p.minChunk {
		return Chunk{}, false
	}

	target := p.targetInterval(len(p.buf))
	if p.now().Sub(p.lastRelease) < target {
		return Chunk{}, false
	}

	return p.releaseLocked(target), true
}

// Flush releases whatever is buffered, even below the minimum chunk
// size. Call at end of response so trailing audio is not dropped.
func (p *Pacer) Flush() (Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return Chunk{}, false
	}
	return p.releaseLocked(p.targetInterval(len(p.buf))), true
}

// releaseLocked hands off the buffer and advances the played counters.
func (p *Pacer) releaseLocked(target time.Duration) Chunk {
	chunk := p.buf
	p.buf = nil
	p.lastRelease = p.now()
	p.playedSamples += int64(len(chunk) / BytesPerSample)

	// A fraction of the target interval smooths jitter without
	// starving the playback device.
	return Chunk{Data: chunk, Delay: target / 10}
}

// targetInterval is the wall-clock duration of buffered audio scaled by
// the playback rate factor.
func (p *Pacer) targetInterval(buffered int) time.Duration {
	seconds := float64(buffered) / float64(p.bytesPerSecond) * p.rate
	return time.Duration(seconds * float64(time.Second))
}

// Reset clears the buffer and played-sample count for a new response.
// The release clock is deliberately kept: cadence carries across
// responses so back-to-back turns do not burst.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
	p.playedSamples = 0
}

// PlayedSamples returns the number of samples released to playback for
// the current response.
func (p *Pacer) PlayedSamples() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playedSamples
}

// PlayedMilliseconds converts the played-sample count to milliseconds
// at the protocol sample rate. This is the audio_end_ms sent when a
// conversation item is truncated after an interruption.
func (p *Pacer) PlayedMilliseconds() int64 {
	return p.PlayedSamples() * 1000 / SampleRate
}

// Buffered returns the number of bytes not yet released.
func (p *Pacer) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
