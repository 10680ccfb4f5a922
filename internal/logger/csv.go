package logger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// RATE JOURNAL
// =============================================================================
//
// The journal is an ordinary bus subscriber. It runs on its own worker, so
// disk latency only ever delays the journal's mailbox, which coalesces
// per pair while the write is in progress.
//
//   bus worker → OnPrice → bufio.Writer (1 MB) → logs/YYYY-MM-DD.csv
//
// Rows are buffered and flushed every FlushPeriod by Run, and on Close.
// Files rotate on the UTC day of the row's timestamp.
//
// CSV schema: timestamp,pair,rate  (timestamp in unix ms)
// =============================================================================

const (
	bufSize = 1 << 20

	// FlushPeriod is how often Run flushes buffered rows.
	FlushPeriod = time.Second

	header = "timestamp,pair,rate"
)

// ErrJournalClosed is returned by OnPrice after Close.
var ErrJournalClosed = errors.New("journal closed")

// Journal appends every rate it receives to a daily CSV file.
type Journal struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	day    string
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// NewJournal creates dir if needed. Files are opened lazily on the first row.
func NewJournal(dir string, opts ...Option) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j := &Journal{
		dir:    dir,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// OnPrice appends one row.
func (j *Journal) OnPrice(ccyPair string, rate float64) error {
	ts := j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	if day := ts.Format(time.DateOnly); day != j.day {
		if err := j.rotate(day); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(j.writer, "%d,%s,%g\n", ts.UnixMilli(), ccyPair, rate)
	return err
}

// rotate must be called with mu held.
func (j *Journal) rotate(day string) error {
	if err := j.closeFile(); err != nil {
		j.logger.Warn("closing journal file", zap.String("day", j.day), zap.Error(err))
	}

	path := filepath.Join(j.dir, day+".csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, bufSize)

	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		fmt.Fprintln(w, header)
	}

	j.file, j.writer, j.day = f, w, day
	j.logger.Info("journal writing", zap.String("path", path))
	return nil
}

func (j *Journal) closeFile() error {
	if j.file == nil {
		return nil
	}
	ferr := j.writer.Flush()
	cerr := j.file.Close()
	j.file, j.writer = nil, nil
	return errors.Join(ferr, cerr)
}

// Flush writes buffered rows to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	return j.writer.Flush()
}

// Run flushes every FlushPeriod until ctx is done, then flushes once more.
func (j *Journal) Run(ctx context.Context) error {
	ticker := time.NewTicker(FlushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return j.Flush()
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Warn("journal flush", zap.Error(err))
			}
		}
	}
}

// Close flushes and closes the current file. Later rows are rejected.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.closeFile()
}
