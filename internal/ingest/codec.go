package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"rate-throttler/internal/model"
)

var (
	errNoPair    = errors.New("tick has no pair")
	errNotFinite = errors.New("rate is not finite")
)

// tick accepts the rate as a JSON number or a numeric string.
type tick struct {
	Pair string      `json:"pair"`
	Rate json.Number `json:"rate"`
}

// decodePayload turns one message into updates. Accepted shapes:
//
//	1.0825                          (bare rate, pair taken from key)
//	{"pair":"EURUSD","rate":1.0825}
//	[{"pair":...}, ...]
//	{"rates":[{"pair":...}, ...]}
//
// key fills in the pair when the payload omits it.
func decodePayload(key string, data []byte) ([]model.Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	var ticks []tick
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &ticks); err != nil {
			return nil, fmt.Errorf("decode ticks: %w", err)
		}
	case '{':
		var envelope struct {
			tick
			Rates []tick `json:"rates"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("decode tick: %w", err)
		}
		if envelope.Rates != nil {
			ticks = envelope.Rates
		} else {
			ticks = []tick{envelope.tick}
		}
	default:
		rate, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return nil, fmt.Errorf("parse rate %q: %w", data, err)
		}
		if !finite(rate) {
			return nil, fmt.Errorf("pair %s: %w", key, errNotFinite)
		}
		if key == "" {
			return nil, errNoPair
		}
		return []model.Update{{Key: key, Rate: rate}}, nil
	}

	out := make([]model.Update, 0, len(ticks))
	for _, t := range ticks {
		u, err := t.update(key)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (t tick) update(key string) (model.Update, error) {
	pair := strings.TrimSpace(t.Pair)
	if pair == "" {
		pair = key
	}
	if pair == "" {
		return model.Update{}, errNoPair
	}
	rate, err := t.Rate.Float64()
	if err != nil {
		return model.Update{}, fmt.Errorf("pair %s: bad rate %q", pair, t.Rate)
	}
	if !finite(rate) {
		return model.Update{}, fmt.Errorf("pair %s: %w", pair, errNotFinite)
	}
	return model.Update{Key: pair, Rate: rate}, nil
}

// finite rejects NaN and ±Inf, which no downstream encoder can carry.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
