package model

import (
	"fmt"
	"math"
)

// Update is a single rate change for one currency pair.
// Value type: copies are cheap and never shared by pointer.
type Update struct {
	Key  string  `json:"pair"`
	Rate float64 `json:"rate"`
}

func (u Update) String() string {
	return fmt.Sprintf("%s=%g", u.Key, u.Rate)
}

// AppendMsgPack appends the MsgPack representation of the Update to b.
// Format: FixArray(2) [key str, rate float64]
func (u *Update) AppendMsgPack(b []byte) []byte {
	b = append(b, 0x92) // FixArray(2)
	b = appendString(b, u.Key)
	return appendFloat64(b, u.Rate)
}

// AppendMsgPackHeader appends a uint32 count, used to announce a history
// replay of n updates before they are streamed one by one.
func AppendMsgPackHeader(b []byte, n uint32) []byte {
	return append(b, 0xce, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendString(b []byte, s string) []byte {
	n := len(s)
	switch {
	case n <= 31:
		b = append(b, 0xa0|byte(n)) // fixstr
	case n <= math.MaxUint8:
		b = append(b, 0xd9, byte(n))
	case n <= math.MaxUint16:
		b = append(b, 0xda, byte(n>>8), byte(n))
	default:
		b = append(b, 0xdb, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	return append(b, s...)
}

func appendFloat64(b []byte, v float64) []byte {
	b = append(b, 0xcb)
	bits := math.Float64bits(v)
	return append(b, byte(bits>>56), byte(bits>>48), byte(bits>>40), byte(bits>>32),
		byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}
