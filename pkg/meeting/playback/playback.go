// Package playback runs the AI speech queue: audio chunks arriving over
// signaling are played strictly in order through a platform Player. A
// platform that refuses to start audio without a user gesture parks the
// queue (the blocked chunk stays at the head) until Unlock succeeds.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrGestureRequired is returned by a Player whose platform blocks
// autoplay until a user gesture has unlocked audio output.
var ErrGestureRequired = errors.New("audio output requires user gesture")

// Chunk is one AI utterance to play.
type Chunk struct {
	// ID identifies the chunk in logs.
	ID string

	// Audio is the encoded payload.
	Audio []byte

	// Format tags the encoding, e.g. "mp3" or "pcm16le".
	Format string

	// Voice names the synthesis voice, if known.
	Voice string

	// Text is the transcript of the utterance, if known.
	Text string
}

// Player renders one chunk of audio. Play blocks until the chunk has
// finished, the context is canceled, or an error occurs. A Player whose
// platform gates output behind a user gesture returns ErrGestureRequired
// without consuming the chunk.
type Player interface {
	Play(ctx context.Context, c Chunk) error
}

// Unlocker is implemented by Players that need an explicit user-gesture
// unlock before audio can start.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Queue plays chunks one at a time in enqueue order. A chunk never
// interrupts the one currently playing; playback errors advance the
// queue rather than stopping it.
type Queue struct {
	player Player
	logger *slog.Logger

	mu           sync.Mutex
	items        []Chunk
	gen          uint64
	playing      bool
	needsGesture bool
	cancelPlay   context.CancelFunc
	closed       bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewQueue starts a queue draining into p. A nil logger falls back to
// slog.Default().
func NewQueue(p Player, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		player: p,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue appends a chunk. Chunks play in exactly the order enqueued.
// Enqueue after Close is a no-op.
func (q *Queue) Enqueue(c Chunk) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
}

// IsPlaying reports whether a chunk is currently being rendered.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// NeedsUserGesture reports whether playback is parked waiting for Unlock.
func (q *Queue) NeedsUserGesture() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.needsGesture
}

// Len returns the number of queued chunks, excluding one mid-play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.playing && n > 0 {
		n--
	}
	return n
}

// Unlock reports a user gesture. If the player needs its own unlock step
// that step runs first; on success the parked head chunk resumes.
func (q *Queue) Unlock(ctx context.Context) error {
	if u, ok := q.player.(Unlocker); ok {
		if err := u.Unlock(ctx); err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.needsGesture = false
	q.mu.Unlock()
	q.signal()
	return nil
}

// Reset drops all queued chunks and stops the one playing. The queue
// keeps running and accepts new chunks.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.gen++
	if q.cancelPlay != nil {
		q.cancelPlay()
	}
	q.mu.Unlock()
}

// Close clears the queue and stops the worker. Idempotent; safe to call
// concurrently with Enqueue.
func (q *Queue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.gen++
		if q.cancelPlay != nil {
			q.cancelPlay()
		}
		q.mu.Unlock()
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		q.drain()
	}
}

// drain plays queued chunks until the queue empties, parks for a
// gesture, or the queue closes.
func (q *Queue) drain() {
	for {
		select {
		case <-q.done:
			return
		default:
		}

		q.mu.Lock()
		if q.needsGesture || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		c := q.items[0]
		gen := q.gen
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelPlay = cancel
		q.playing = true
		q.mu.Unlock()

		start := time.Now()
		err := q.player.Play(ctx, c)
		cancel()

		q.mu.Lock()
		q.playing = false
		q.cancelPlay = nil
		stale := q.gen != gen
		switch {
		case stale:
			// Reset/Close cleared the queue mid-play; nothing to pop.
		case errors.Is(err, ErrGestureRequired):
			// Chunk stays at the head until Unlock.
			q.needsGesture = true
		default:
			if len(q.items) > 0 {
				q.items = q.items[1:]
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Warn("playback chunk failed, advancing",
					"chunk_id", c.ID,
					"format", c.Format,
					"elapsed", time.Since(start),
					"error", err)
			}
		}
		park := q.needsGesture
		q.mu.Unlock()

		if park {
			return
		}
	}
}
