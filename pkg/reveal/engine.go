// Package reveal converts an append-only stream of text fragments into a
// time-paced, human-readable visible string. Network delivery rate and reveal
// rate are deliberately decoupled: bursts of fragments never make the visible
// text jump, and slow fragments never stall the pacing loop once new material
// arrives.
package reveal

import (
	"context"
	"sync"
	"time"
)

// Status is the pacing state of the buffer. Completion of a reveal pass does
// not imply completion of the underlying stream; appending after Complete
// resumes Revealing.
type Status int

const (
	StatusIdle Status = iota
	StatusRevealing
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRevealing:
		return "revealing"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// DefaultTypingSpeed is the delay between revealed runes.
const DefaultTypingSpeed = 30 * time.Millisecond

type Config struct {
	// TypingSpeed is the pacing tick period; one rune is revealed per tick.
	TypingSpeed time.Duration
	// OnStart fires when a reveal pass begins, OnComplete when the cursor
	// catches up with the queued text. Both are invoked outside the engine
	// lock and may call back into the engine.
	OnStart    func()
	OnComplete func()
}

// Engine holds one in-flight reveal buffer: the queued text (append-only
// until reset), a monotonically increasing cursor, and the pacing loop that
// advances it. All methods are safe for concurrent use.
type Engine struct {
	speed      time.Duration
	onStart    func()
	onComplete func()

	mu     sync.Mutex
	queued []rune
	cursor int
	status Status
	cancel context.CancelFunc
}

func NewEngine(cfg Config) *Engine {
	speed := cfg.TypingSpeed
	if speed <= 0 {
		speed = DefaultTypingSpeed
	}
	return &Engine{
		speed:      speed,
		onStart:    cfg.OnStart,
		onComplete: cfg.OnComplete,
	}
}

// SetText resets the buffer to a single complete string and, if non-empty,
// begins revealing from scratch. Used for already-complete content.
func (e *Engine) SetText(text string) {
	e.mu.Lock()
	e.stopLocked()
	e.queued = []rune(text)
	e.cursor = 0
	e.status = StatusIdle
	started := false
	if len(e.queued) > 0 {
		e.status = StatusRevealing
		e.startLocked()
		started = true
	}
	e.mu.Unlock()
	if started && e.onStart != nil {
		e.onStart()
	}
}

// AppendText grows the queued text by chunk. If a reveal pass is running it
// simply has more material to consume; if the buffer was Idle or Complete the
// engine transitions back to Revealing before the next tick. Empty chunks are
// a no-op.
func (e *Engine) AppendText(chunk string) {
	if chunk == "" {
		return
	}
	e.mu.Lock()
	e.queued = append(e.queued, []rune(chunk)...)
	started := false
	if e.status != StatusRevealing && e.cursor < len(e.queued) {
		e.status = StatusRevealing
		e.startLocked()
		started = true
	}
	e.mu.Unlock()
	if started && e.onStart != nil {
		e.onStart()
	}
}

// ClearText is a hard reset to Idle with an empty buffer, cancelling any
// in-progress reveal. No completion callback fires.
func (e *Engine) ClearText() {
	e.mu.Lock()
	e.stopLocked()
	e.queued = nil
	e.cursor = 0
	e.status = StatusIdle
	e.mu.Unlock()
}

// SkipToEnd moves the cursor to the end of the queued text immediately,
// stops the paced reveal, and marks the buffer Complete.
func (e *Engine) SkipToEnd() {
	e.mu.Lock()
	e.stopLocked()
	e.cursor = len(e.queued)
	e.status = StatusComplete
	e.mu.Unlock()
	if e.onComplete != nil {
		e.onComplete()
	}
}

// DisplayedText is the portion of the queued text the user currently sees.
func (e *Engine) DisplayedText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.queued[:e.cursor])
}

// FullText is the entire queued text, shown once the reveal completes.
func (e *Engine) FullText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.queued)
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) IsRevealing() bool { return e.Status() == StatusRevealing }
func (e *Engine) IsComplete() bool  { return e.Status() == StatusComplete }

// startLocked launches the pacing loop for the current pass. The previous
// loop, if any, is cancelled first so stale ticks can never advance a buffer
// they no longer own.
func (e *Engine) startLocked() {
	e.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
}

func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// run advances the cursor one rune per tick until it catches up, then stops
// the ticker and marks the buffer Complete. No busy polling: a later append
// starts a fresh pass.
func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.speed)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if ctx.Err() != nil {
				e.mu.Unlock()
				return
			}
			if e.cursor < len(e.queued) {
				e.cursor++
			}
			if e.cursor >= len(e.queued) {
				e.status = StatusComplete
				e.stopLocked()
				e.mu.Unlock()
				if e.onComplete != nil {
					e.onComplete()
				}
				return
			}
			e.mu.Unlock()
		}
	}
}
