package util

import (
	"log"
	"sync"
	"testing"
)

// NewTestingLogger returns a logger whose lines go to tb.Log.
// Loggers are shared with worker goroutines so writes are serialized.
func NewTestingLogger(tb testing.TB, prefix string) *log.Logger {
	var mu sync.Mutex
	cl := &CommitLogger{
		Committer: func(p []byte) {
			tb.Log(string(p))
		},
	}
	return log.New(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return cl.Write(p)
	}), prefix, log.Lmicroseconds)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
