// Package csv ingests delimited text into a storage.TableSpec.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"chartql/internal/parser"
	"chartql/internal/storage"
)

// Options control CSV reading. The zero value reads comma-separated input
// with a header row.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// NoHeader treats the first record as data; columns are then named
	// column, column_2, ...
	NoHeader bool
	// LazyQuotes is passed to encoding/csv.
	LazyQuotes bool
	// OnError, when set, receives malformed records, which are skipped.
	// When nil the first malformed record fails the read.
	OnError parser.ErrorFunc
}

// ReadTable reads r to EOF and returns it as a table named after name.
//
// Header cells are trimmed, a leading UTF-8 BOM is stripped and the names go
// through identifier.EnsureUnique. Cell values are typed per column (see
// package parser). Records may be ragged: short ones are padded with Null and
// extra fields are ignored.
//
// Edge cases:
//   - Empty input yields a table with no columns and no rows.
//   - A header-only input yields columns and no rows.
//
// Errors:
//   - ctx cancellation.
//   - malformed CSV when opt.OnError is nil.
func ReadTable(ctx context.Context, r io.Reader, name string, opt Options) (storage.TableSpec, error) {
	headers, records, err := readRecords(ctx, r, opt)
	if err != nil {
		return storage.TableSpec{}, err
	}
	if opt.NoHeader {
		width := 0
		for _, rec := range records {
			width = max(width, len(rec))
		}
		headers = make([]string, width)
	}
	return parser.BuildTable(name, headers, records), nil
}

func readRecords(ctx context.Context, r io.Reader, opt Options) ([]string, [][]string, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	var (
		headers []string
		records [][]string
		line    int
	)
	first := true

	for {
		if line%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
			}
		}

		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return headers, records, nil
		}
		if err != nil {
			if opt.OnError == nil {
				return nil, nil, fmt.Errorf("csv: line %d: %w", line, err)
			}
			opt.OnError(line, err)
			continue
		}
		if first {
			first = false
			rec[0] = strings.TrimPrefix(rec[0], "\uFEFF")
			if !opt.NoHeader {
				headers = make([]string, len(rec))
				for i, h := range rec {
					headers[i] = strings.TrimSpace(h)
				}
				continue
			}
		}
		records = append(records, rec)
	}
}
