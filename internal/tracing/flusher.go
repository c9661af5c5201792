package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/logger"
)

// Sink writes one finalized trace document to durable storage.
type Sink interface {
	Write(ctx context.Context, doc Document) error
}

// Flusher exports trace documents asynchronously through a buffered channel
// and a single background writer. Send never blocks: when the buffer is full
// the document is dropped with a warning, because tracing must not slow the
// feed path down.
type Flusher struct {
	docs         chan Document
	closed       chan struct{}
	sink         Sink
	log          logger.Logger
	writeTimeout time.Duration
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// NewFlusher creates a flusher with the given buffer capacity.
func NewFlusher(sink Sink, capacity int, writeTimeout time.Duration, log logger.Logger) *Flusher {
	return &Flusher{
		docs:         make(chan Document, capacity),
		closed:       make(chan struct{}),
		sink:         sink,
		log:          log,
		writeTimeout: writeTimeout,
	}
}

// Start launches the background writer goroutine.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.flushLoop()
}

// Stop drains buffered documents and waits for the writer to finish.
// It is safe to call multiple times.
func (f *Flusher) Stop() {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
	f.wg.Wait()
}

// Send enqueues a document for export. It returns false when the buffer is
// full and the document was dropped.
func (f *Flusher) Send(doc Document) bool {
	select {
	case f.docs <- doc:
		return true
	default:
		f.log.Warn("Trace buffer full, dropping document",
			logger.String("trace_id", doc.TraceID),
			logger.Int64("user_id", doc.UserID),
		)
		return false
	}
}

func (f *Flusher) flushLoop() {
	defer f.wg.Done()

	for {
		select {
		case doc := <-f.docs:
			f.write(doc)
		case <-f.closed:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case doc := <-f.docs:
					f.write(doc)
				default:
					return
				}
			}
		}
	}
}

// write exports one document. Failures are logged and swallowed: trace
// export is best-effort and never propagates.
func (f *Flusher) write(doc Document) {
	ctx, cancel := context.WithTimeout(context.Background(), f.writeTimeout)
	defer cancel()

	if err := f.sink.Write(ctx, doc); err != nil {
		f.log.Warn("Trace write failed",
			logger.String("trace_id", doc.TraceID),
			logger.Int64("user_id", doc.UserID),
			logger.Error(err),
		)
	}
}
