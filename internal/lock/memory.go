package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memHold struct {
	token   string
	expires time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]memHold
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: map[string]memHold{}, now: time.Now}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holds[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, false, nil
	}
	h := memHold{token: uuid.NewString()}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	l.holds[key] = h

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// The hold may have expired and been taken by someone else.
			if cur, ok := l.holds[key]; ok && cur.token == h.token {
				delete(l.holds, key)
			}
		})
	}
	return release, true, nil
}
