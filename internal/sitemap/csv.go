package sitemap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseCSV extracts URLs from a CSV list. Each row contributes its first
// http(s) column. A leading row that mentions url, link, or http but holds no
// URL itself is treated as a header.
func ParseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	set := newURLSet()
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read url list: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		col, ok := firstURL(record)
		if first {
			first = false
			if !ok && looksLikeHeader(record) {
				continue
			}
		}
		if ok {
			set.add(col)
		}
	}
	return set.list(), nil
}

func firstURL(record []string) (string, bool) {
	for _, col := range record {
		col = strings.Trim(strings.TrimSpace(col), `"`)
		if isHTTPURL(col) {
			return col, true
		}
	}
	return "", false
}

func looksLikeHeader(record []string) bool {
	line := strings.ToLower(strings.Join(record, ","))
	return strings.Contains(line, "url") || strings.Contains(line, "link") || strings.Contains(line, "http")
}

func blankRecord(record []string) bool {
	for _, col := range record {
		if strings.TrimSpace(col) != "" {
			return false
		}
	}
	return true
}
