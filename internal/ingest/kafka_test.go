package ingest_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rate-throttler/internal/ingest"
	"rate-throttler/internal/model"
)

// fakeReader replays msgs, then returns end (io.EOF when nil) or blocks
// until ctx is done when block is set.
type fakeReader struct {
	msgs   []kafka.Message
	end    error
	block  bool
	closed atomic.Bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		return m, nil
	}
	if f.block {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	if f.end != nil {
		return kafka.Message{}, f.end
	}
	return kafka.Message{}, io.EOF
}

func (f *fakeReader) Close() error {
	f.closed.Store(true)
	return nil
}

func TestKafkaSource(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("EURUSD"), Value: []byte("1.0825")},
		{Value: []byte(`{"pair":"GBPUSD","rate":"1.27"}`)},
		{Key: []byte("BAD"), Value: []byte("nan-ish")},
		{Key: []byte("EURUSD"), Value: []byte("NaN")},
		{Key: []byte("EURUSD"), Value: []byte("-Inf")},
		{Value: []byte(`[{"pair":"A","rate":1},{"pair":"B","rate":2}]`)},
	}}
	pub := &recorder{}

	err := ingest.NewKafkaSource(r, pub, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, r.closed.Load())
	assert.Equal(t, []model.Update{
		{Key: "EURUSD", Rate: 1.0825},
		{Key: "GBPUSD", Rate: 1.27},
		{Key: "A", Rate: 1},
		{Key: "B", Rate: 2},
	}, pub.all())
}

func TestKafkaSource_ReadError(t *testing.T) {
	boom := errors.New("broker gone")
	r := &fakeReader{end: boom}
	err := ingest.NewKafkaSource(r, &recorder{}, zap.NewNop()).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, r.closed.Load())
}

func TestKafkaSource_Cancel(t *testing.T) {
	r := &fakeReader{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ingest.NewKafkaSource(r, &recorder{}, zap.NewNop()).Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	assert.True(t, r.closed.Load())
}
