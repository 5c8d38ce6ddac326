//go:build !unix

package store

import "time"

// fileLock is a no-op where flock is unavailable; callers must serialize
// writers externally.
type fileLock struct{}

func acquireLock(_ string, _ bool, _ time.Duration) (*fileLock, error) {
	return &fileLock{}, nil
}

func (l *fileLock) release() error {
	return nil
}
