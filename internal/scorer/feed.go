package scorer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// FeedRowError describes a feed line that was skipped.
type FeedRowError struct {
	Line   int
	Reason string
}

func (e *FeedRowError) Error() string {
	return fmt.Sprintf("feed line %d: %s", e.Line, e.Reason)
}

// ReadFeed parses an aggregated statistics feed:
//
//	id,access_count,last_access_time
//	fileA,12,1718000000.5
//
// The header line is optional. last_access_time is unix seconds and may be
// fractional. Malformed lines are returned as FeedRowErrors and skipped.
// Repeated ids are merged by summing counts and keeping the latest time.
// Rows come back in first-seen order.
func ReadFeed(r io.Reader) ([]StatRow, []*FeedRowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		rows    []StatRow
		skipped []*FeedRowError
		index   = map[string]int{}
		first   = true
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			skipped = append(skipped, &FeedRowError{Line: parseErr.Line, Reason: parseErr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read feed: %w", err)
		}

		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
				continue
			}
		}

		row, reason := parseFeedRecord(rec)
		if reason != "" {
			skipped = append(skipped, &FeedRowError{Line: line, Reason: reason})
			continue
		}
		if i, ok := index[row.ID]; ok {
			rows[i].AccessCount += row.AccessCount
			if row.LastAccess.After(rows[i].LastAccess) {
				rows[i].LastAccess = row.LastAccess
			}
			continue
		}
		index[row.ID] = len(rows)
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func parseFeedRecord(rec []string) (StatRow, string) {
	if len(rec) != 3 {
		return StatRow{}, fmt.Sprintf("want 3 fields, got %d", len(rec))
	}
	id := strings.TrimSpace(rec[0])
	if id == "" {
		return StatRow{}, "empty id"
	}
	count, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	if err != nil {
		return StatRow{}, fmt.Sprintf("access_count %q: not an integer", rec[1])
	}
	if count < 0 {
		return StatRow{}, fmt.Sprintf("access_count %d: negative", count)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return StatRow{}, fmt.Sprintf("last_access_time %q: not a unix timestamp", rec[2])
	}
	whole, frac := math.Modf(secs)
	return StatRow{
		ID:          id,
		AccessCount: count,
		LastAccess:  time.Unix(int64(whole), int64(frac*1e9)),
	}, ""
}
