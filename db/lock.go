package db

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes work on a key. Lock blocks until the key is free or ctx
// is done; the returned func releases the key and may be called repeatedly.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CourseLockKey is the lock key guarding enrollments into one course.
func CourseLockKey(courseID int64) string {
	return fmt.Sprintf("course:%d:enroll", courseID)
}

// LocalLocker is an in-process Locker. The zero value is ready to use.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.slots == nil {
		l.slots = make(map[string]*slot)
	}
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
	}
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
