package model_test

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-throttler/internal/model"
)

func TestUpdate_AppendMsgPack(t *testing.T) {
	t.Parallel()
	u := model.Update{Key: "EURUSD", Rate: 1.0832}

	b := u.AppendMsgPack(nil)

	require.Len(t, b, 1+1+6+1+8)
	assert.Equal(t, byte(0x92), b[0])
	assert.Equal(t, byte(0xa6), b[1])
	assert.Equal(t, "EURUSD", string(b[2:8]))
	assert.Equal(t, byte(0xcb), b[8])
	assert.Equal(t, 1.0832, math.Float64frombits(binary.BigEndian.Uint64(b[9:])))
}

func TestUpdate_AppendMsgPack_LongKey(t *testing.T) {
	t.Parallel()
	u := model.Update{Key: strings.Repeat("X", 40), Rate: 2}

	b := u.AppendMsgPack([]byte{0xff})

	require.Equal(t, byte(0xff), b[0])
	assert.Equal(t, byte(0xd9), b[2])
	assert.Equal(t, byte(40), b[3])
	assert.Len(t, b, 1+1+2+40+9)
}

func TestAppendMsgPackHeader(t *testing.T) {
	t.Parallel()
	b := model.AppendMsgPackHeader(nil, 300)
	assert.Equal(t, []byte{0xce, 0, 0, 0x01, 0x2c}, b)
}

func TestUpdate_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "USDRUB=74.262", model.Update{Key: "USDRUB", Rate: 74.262}.String())
}
