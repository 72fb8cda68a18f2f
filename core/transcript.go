package sessions

import (
	"sync"

	"github.com/lectern-ai/lectern-core/core/llms"
)

// transcript is the session's append-only history log. A user turn is
// staged before its exchange runs and either committed together with the
// assistant turn or rolled back, so committed history never contains half
// of an exchange.
type transcript struct {
	mu        sync.RWMutex
	committed []llms.Turn
	staged    *llms.Turn
}

func (t *transcript) stage(turn llms.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = &turn
}

// commit appends the staged user turn together with the assistant turn.
// Without a staged turn it is a no-op.
func (t *transcript) commit(assistant llms.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.staged == nil {
		return
	}
	t.committed = append(t.committed, *t.staged, assistant)
	t.staged = nil
}

func (t *transcript) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = nil
}

// snapshot returns the working history, staged turn included.
func (t *transcript) snapshot() []llms.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	turns := make([]llms.Turn, 0, len(t.committed)+1)
	turns = append(turns, t.committed...)
	if t.staged != nil {
		turns = append(turns, *t.staged)
	}
	return turns
}

// workingLen counts the working history, staged turn included.
func (t *transcript) workingLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	length := len(t.committed)
	if t.staged != nil {
		length++
	}
	return length
}

func (t *transcript) committedTurns() []llms.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]llms.Turn(nil), t.committed...)
}
