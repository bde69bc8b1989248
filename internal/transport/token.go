package transport

import "sync"

// Token guards the caller memory referenced by an in-flight packet. The
// target runs its copy through Do; the initiator calls Cancel before it
// hands the memory back to the application. A canceled token never runs
// another copy, and Cancel waits for a copy already underway to finish.
type Token struct {
	mu       sync.Mutex
	canceled bool
}

// NewToken returns a live token.
func NewToken() *Token {
	return &Token{}
}

// Do runs fn unless the token was canceled and reports whether it ran. A nil
// token always runs fn.
func (t *Token) Do(fn func()) bool {
	if t == nil {
		fn()
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return false
	}
	fn()
	return true
}

// Cancel marks the token canceled. It is safe to call on a nil token and
// more than once.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
}

// Canceled reports whether Cancel has been called.
func (t *Token) Canceled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}
