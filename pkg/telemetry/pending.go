package telemetry

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultPendingBuffer is the number of records a PendingWriter holds when
// no size is configured.
const DefaultPendingBuffer = 1024

// PendingWriter buffers log records until a sink is attached. Records
// written before Attach are held in a bounded buffer; once the buffer is
// full the oldest record is dropped. After Attach every record is passed
// straight through.
type PendingWriter struct {
	mu      sync.Mutex
	sink    io.Writer
	records [][]byte
	limit   int
	dropped int
}

var _ zerolog.LevelWriter = (*PendingWriter)(nil)

// NewPendingWriter creates a PendingWriter holding at most limit records.
func NewPendingWriter(limit int) *PendingWriter {
	if limit <= 0 {
		limit = DefaultPendingBuffer
	}
	return &PendingWriter{limit: limit}
}

// Write implements io.Writer.
func (w *PendingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sink != nil {
		return w.sink.Write(p)
	}

	// zerolog reuses its buffer after Write returns
	record := make([]byte, len(p))
	copy(record, p)

	if len(w.records) >= w.limit {
		w.records = w.records[1:]
		w.dropped++
	}
	w.records = append(w.records, record)
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter.
func (w *PendingWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	return w.Write(p)
}

// Attach drains buffered records into sink in arrival order and routes all
// further writes to it. The first write error stops the drain; undelivered
// records are discarded.
func (w *PendingWriter) Attach(sink io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	records := w.records
	w.records = nil
	w.sink = sink

	for _, record := range records {
		if _, err := sink.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of buffered records.
func (w *PendingWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// Dropped returns how many records were discarded because the buffer was full.
func (w *PendingWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Attached reports whether a sink has been attached.
func (w *PendingWriter) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink != nil
}
