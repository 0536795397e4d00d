package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	dateLayouts = []string{time.RFC3339Nano, "2006-01-02", "2006-01-02 15:04:05"}
	timeLayouts = []string{"15:04:05", "15:04"}
)

// NormalizeDate converts feed dates ("2025-10-27T03:00:00.000Z", "2025-10-27") to
// YYYY-MM-DD. Unparseable input yields "".
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	if len(raw) >= 10 {
		if t, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// NormalizeTime converts feed times ("9:05", "16:32", "16:32:32", RFC3339) to a
// zero-padded HH:MM:SS so composites compare correctly as strings. Unparseable
// input yields "".
func NormalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "T") {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.Format("15:04:05")
		}
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04:05")
		}
	}
	return ""
}

// Normalize returns a copy of the row with date and time in canonical form
func (r FeedRow) Normalize() FeedRow {
	r.Date = NormalizeDate(r.Date)
	r.Time = NormalizeTime(r.Time)
	r.Phone = strings.TrimSpace(r.Phone)
	return r
}

// GroupRows normalizes feed rows and groups them by (phone, date, time).
// Row order is preserved inside a group; groups are sorted by composite timestamp.
func GroupRows(rows []FeedRow) []RawOrderEvent {
	index := make(map[DedupKey]int)
	groups := make([]RawOrderEvent, 0)

	for _, row := range rows {
		row = row.Normalize()
		key := DedupKey{Phone: row.Phone, Date: row.Date, Time: row.Time}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, RawOrderEvent{
				Name:  row.Name,
				Phone: row.Phone,
				Date:  row.Date,
				Time:  row.Time,
			})
		}

		groups[i].Lines = append(groups[i].Lines, RawOrderLine{
			ProductID: row.ProductID,
			Quantity:  float64(row.Quantity),
			Note:      row.Note,
		})
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Composite() < groups[b].Composite()
	})

	return groups
}

// DecodeFeedRows accepts either one feed row object or a list of rows
func DecodeFeedRows(body []byte) ([]FeedRow, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		var rows []FeedRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("no rows")
		}
		return rows, nil
	}

	var row FeedRow
	if err := json.Unmarshal(trimmed, &row); err != nil {
		return nil, err
	}
	return []FeedRow{row}, nil
}
