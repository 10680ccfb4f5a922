package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-throttler/internal/model"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name string
		key  string
		in   string
		want []model.Update
	}{
		{"bare rate", "EURUSD", " 1.0825\n", []model.Update{{Key: "EURUSD", Rate: 1.0825}}},
		{"object numeric", "", `{"pair":"GBPUSD","rate":1.27}`, []model.Update{{Key: "GBPUSD", Rate: 1.27}}},
		{"object string rate", "", `{"pair":"GBPUSD","rate":"1.27"}`, []model.Update{{Key: "GBPUSD", Rate: 1.27}}},
		{"pair from key", "USDJPY", `{"rate":150.5}`, []model.Update{{Key: "USDJPY", Rate: 150.5}}},
		{"payload pair wins", "XXX", `{"pair":"USDJPY","rate":150.5}`, []model.Update{{Key: "USDJPY", Rate: 150.5}}},
		{"array", "", `[{"pair":"A","rate":1},{"pair":"B","rate":"2"}]`, []model.Update{{Key: "A", Rate: 1}, {Key: "B", Rate: 2}}},
		{"snapshot", "", `{"rates":[{"pair":"A","rate":1}]}`, []model.Update{{Key: "A", Rate: 1}}},
		{"empty snapshot", "", `{"rates":[]}`, []model.Update{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.key, []byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		in   string
	}{
		{"empty", "EURUSD", "  "},
		{"bare without key", "", "1.1"},
		{"not a number", "EURUSD", "abc"},
		{"object without pair", "", `{"rate":1}`},
		{"missing rate", "", `{"pair":"EURUSD"}`},
		{"bad json", "", `{"pair":`},
		{"bad rate string", "", `{"pair":"EURUSD","rate":"x"}`},
		{"bare NaN", "EURUSD", "NaN"},
		{"bare +Inf", "EURUSD", "+Inf"},
		{"bare -Inf", "EURUSD", "-Inf"},
		{"huge exponent", "EURUSD", "1e400"},
		{"string NaN", "", `{"pair":"EURUSD","rate":"NaN"}`},
		{"tick overflow", "", `{"pair":"EURUSD","rate":1e400}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.key, []byte(tt.in))
			assert.Error(t, err)
			assert.Nil(t, got)
		})
	}
}
