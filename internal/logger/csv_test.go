package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rate-throttler/internal/logger"
	"rate-throttler/internal/model"
	"rate-throttler/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestJournal_WritesRows(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	j, err := logger.NewJournal(dir, logger.WithClock(clock.now))
	require.NoError(t, err)

	require.NoError(t, j.OnPrice("EURUSD", 1.0825))
	require.NoError(t, j.OnPrice("USDJPY", 150.5))
	require.NoError(t, j.Close())

	ms := clock.now().UnixMilli()
	want := "timestamp,pair,rate\n" +
		itoa(ms) + ",EURUSD,1.0825\n" +
		itoa(ms) + ",USDJPY,150.5\n"
	assert.Equal(t, want, readFile(t, filepath.Join(dir, "2026-03-01.csv")))

	assert.ErrorIs(t, j.OnPrice("EURUSD", 1), logger.ErrJournalClosed)
	assert.NoError(t, j.Close())
}

func TestJournal_RotatesDaily(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)}
	j, err := logger.NewJournal(dir, logger.WithClock(clock.now))
	require.NoError(t, err)

	require.NoError(t, j.OnPrice("EURUSD", 1.1))
	clock.set(time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC))
	require.NoError(t, j.OnPrice("EURUSD", 1.2))
	require.NoError(t, j.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	got, err := state.LoadFromCSV(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.Update{{Key: "EURUSD", Rate: 1.2}}, got)
}

func TestJournal_AppendsWithoutSecondHeader(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	for _, rate := range []float64{1.1, 1.2} {
		j, err := logger.NewJournal(dir, logger.WithClock(clock.now))
		require.NoError(t, err)
		require.NoError(t, j.OnPrice("EURUSD", rate))
		require.NoError(t, j.Close())
	}

	got, err := state.LoadFromCSV(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.Update{
		{Key: "EURUSD", Rate: 1.1},
		{Key: "EURUSD", Rate: 1.2},
	}, got)
}

func TestJournal_RunFlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	j, err := logger.NewJournal(dir, logger.WithClock(clock.now))
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.NoError(t, j.OnPrice("GBPUSD", 1.27))
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, readFile(t, filepath.Join(dir, "2026-03-01.csv")), ",GBPUSD,1.27\n")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
