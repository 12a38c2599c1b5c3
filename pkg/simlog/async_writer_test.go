package simlog

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer wraps bytes.Buffer with a mutex so the worker goroutine and
// the test goroutine can safely race on it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestAsyncWriterFlushesAllWritesBeforeClose(t *testing.T) {
	dest := &syncBuffer{}
	w := NewAsyncWriter(dest, 4)

	n, err := w.Write([]byte("one\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = w.Write([]byte("two\n"))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.Equal(t, "one\ntwo\n", dest.String())
}

func TestAsyncWriterCloseIsIdempotent(t *testing.T) {
	w := NewAsyncWriter(&syncBuffer{}, 1)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestAsyncWriterDoesNotMutateCallerBuffer(t *testing.T) {
	dest := &syncBuffer{}
	w := NewAsyncWriter(dest, 4)

	buf := []byte("hello")
	_, err := w.Write(buf)
	require.NoError(t, err)
	buf[0] = 'X'

	require.NoError(t, w.Close())
	assert.Equal(t, "hello", dest.String())
}
