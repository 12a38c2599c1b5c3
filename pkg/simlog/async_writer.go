package simlog

import (
	"io"
	"sync"
)

// AsyncWriter is an io.Writer that hands every Write off to a background
// goroutine over a buffered channel, so a slow sink (a file on a loaded
// disk, a pipe to a slow collector) does not stall the simulation loop
// until the buffer fills. Close drains the queue before returning.
type AsyncWriter struct {
	dest  io.Writer
	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewAsyncWriter starts the worker goroutine and returns a ready writer.
// bufSize bounds how many pending writes may queue before Write blocks the
// caller; 0 chooses a sensible default.
func NewAsyncWriter(dest io.Writer, bufSize int) *AsyncWriter {
	if bufSize <= 0 {
		bufSize = 256
	}
	w := &AsyncWriter{
		dest:  dest,
		queue: make(chan []byte, bufSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for p := range w.queue {
		if _, err := w.dest.Write(p); err != nil {
			w.closeErr = err
		}
	}
}

// Write copies p (the caller's buffer may be reused by zerolog) and queues
// it for the worker. It blocks only while bufSize writes are already
// pending.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	w.queue <- buf
	return len(p), nil
}

// Close drains the queue and stops the worker, returning the last write
// error observed by the background goroutine, if any.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.queue)
		<-w.done
	})
	return w.closeErr
}
