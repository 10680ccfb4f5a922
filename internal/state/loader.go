package state

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rate-throttler/internal/model"
)

// LoadFromCSV reads the newest journal file in dir and returns up to limit
// of its most recent updates, oldest first. It is used on restart, before
// any live update has reached the ring buffer.
//
// Journal header: timestamp,pair,rate
//
// A missing directory or an empty one is not an error. Rows that do not
// parse are skipped.
func LoadFromCSV(dir string, limit int) ([]model.Update, error) {
	if limit <= 0 {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	// YYYY-MM-DD.csv sorts chronologically.
	sort.Strings(files)
	latest := files[len(files)-1]

	f, err := os.Open(latest)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", latest, err)
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", latest, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	pairCol, ok := idx["pair"]
	if !ok {
		return nil, fmt.Errorf("%s: missing pair column", latest)
	}
	rateCol, ok := idx["rate"]
	if !ok {
		return nil, fmt.Errorf("%s: missing rate column", latest)
	}

	var out []model.Update
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		u, ok := parseRow(row, pairCol, rateCol)
		if !ok {
			continue
		}
		out = append(out, u)
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func parseRow(row []string, pairCol, rateCol int) (model.Update, bool) {
	if pairCol >= len(row) || rateCol >= len(row) {
		return model.Update{}, false
	}
	pair := strings.TrimSpace(row[pairCol])
	if pair == "" {
		return model.Update{}, false
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(row[rateCol]), 64)
	if err != nil {
		return model.Update{}, false
	}
	return model.Update{Key: pair, Rate: rate}, true
}
