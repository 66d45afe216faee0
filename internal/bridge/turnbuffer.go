package bridge

import (
	"time"

	"github.com/google/uuid"
)

// turnBuffer accumulates synthesized-audio bytes for the currently open turn
// and slices them into fixed-size chunks for the avatar leg.
//
// A session has zero or one open turn at any instant: the first appended
// fragment with no open turn opens one, and the turn closes on an explicit
// final flush or discard. The buffer is mutated only from the session's
// event loop, so it needs no locking.
type turnBuffer struct {
	chunkSize int

	turnID        string
	buf           []byte
	startedAt     time.Time
	lastFlushedAt time.Time
}

// newTurnBuffer creates a buffer emitting chunks of chunkSize bytes.
func newTurnBuffer(chunkSize int) *turnBuffer {
	return &turnBuffer{chunkSize: chunkSize}
}

// open reports whether a turn is currently open.
func (b *turnBuffer) open() bool { return b.turnID != "" }

// id returns the open turn's id, or "".
func (b *turnBuffer) id() string { return b.turnID }

// buffered returns the number of bytes awaiting a full chunk.
func (b *turnBuffer) buffered() int { return len(b.buf) }

// append adds synthesized-audio bytes to the open turn, starting a new turn
// if none is open, and returns every full chunk now available. The remainder
// stays buffered for the next append or the final flush.
func (b *turnBuffer) append(data []byte, now time.Time) (chunks [][]byte, turnID string) {
	if !b.open() {
		b.turnID = uuid.NewString()
		b.startedAt = now
		b.lastFlushedAt = time.Time{}
	}
	b.buf = append(b.buf, data...)

	for len(b.buf) >= b.chunkSize {
		chunk := make([]byte, b.chunkSize)
		copy(chunk, b.buf[:b.chunkSize])
		b.buf = b.buf[b.chunkSize:]
		chunks = append(chunks, chunk)
		b.lastFlushedAt = now
	}
	return chunks, b.turnID
}

// finalFlush closes the turn, returning any buffered partial chunk (nil when
// nothing is buffered) and the turn id. Callers send the partial chunk, then
// the speak-end marker. Returns ok=false when no turn is open.
func (b *turnBuffer) finalFlush(now time.Time) (partial []byte, turnID string, ok bool) {
	if !b.open() {
		return nil, "", false
	}
	turnID = b.turnID
	if len(b.buf) > 0 {
		partial = make([]byte, len(b.buf))
		copy(partial, b.buf)
		b.lastFlushedAt = now
	}
	b.reset()
	return partial, turnID, true
}

// discard drops all buffered bytes and closes the turn without flushing.
// Used on barge-in, where the interrupt itself is the end signal and stale
// audio must not leak into the next turn.
func (b *turnBuffer) discard() {
	b.reset()
}

func (b *turnBuffer) reset() {
	b.turnID = ""
	b.buf = nil
	b.startedAt = time.Time{}
	b.lastFlushedAt = time.Time{}
}
