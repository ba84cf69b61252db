// Package html ingests <table> elements from an HTML document.
//
// Each matched table becomes one storage.TableSpec. The header row is the
// <thead> row when present, otherwise the first row if it consists of <th>
// cells, otherwise a synthetic row of empty names (column, column_2, ...).
// Cell text is whitespace-collapsed and typed per column (see package parser).
package html

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"chartql/internal/identifier"
	"chartql/internal/parser"
	"chartql/internal/storage"
)

// DefaultSelector matches every table in the document.
const DefaultSelector = "table"

// Options control table extraction.
type Options struct {
	// Selector is a CSS selector for the tables to read; empty means "table".
	Selector string
}

// ReadTables parses r and returns one table per matched element, in document
// order.
//
// Table names come from the <caption> text when present, otherwise from name;
// the names are made unique across the returned batch with
// identifier.EnsureUnique. Tables without any rows or header cells are
// skipped.
//
// Edge cases:
//   - An invalid selector matches nothing and yields no tables.
//
// Errors:
//   - HTML parse errors.
//   - ctx cancellation between tables.
func ReadTables(ctx context.Context, r io.Reader, name string, opt Options) ([]storage.TableSpec, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("html: parse: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	sel := opt.Selector
	if sel == "" {
		sel = DefaultSelector
	}

	var (
		out   []storage.TableSpec
		names []string
	)
	matches := doc.Find(sel)
	for i := range matches.Nodes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tbl := matches.Eq(i)
		headers, records := readGrid(tbl)
		if len(headers) == 0 && len(records) == 0 {
			continue
		}

		tableName := name
		if caption := cellText(tbl.ChildrenFiltered("caption").First()); caption != "" {
			tableName = caption
		}
		names = append(names, tableName)
		out = append(out, parser.BuildTable(tableName, headers, records))
	}

	for i, n := range identifier.EnsureUnique(names) {
		out[i].Name = n
	}
	return out, nil
}

// readGrid returns the header cells and the body records of one table.
// Rows of nested tables are not included.
func readGrid(tbl *goquery.Selection) ([]string, [][]string) {
	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})

	var headers []string
	var records [][]string
	headerFound := false

	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th, td")
		inHead := tr.Parent().Is("thead")
		allTH := cells.Length() > 0 && cells.Length() == tr.ChildrenFiltered("th").Length()

		if !headerFound && (inHead || (i == 0 && allTH)) {
			headerFound = true
			headers = texts(cells)
			return
		}
		if cells.Length() == 0 {
			return
		}
		records = append(records, texts(cells))
	})

	if !headerFound {
		width := 0
		for _, r := range records {
			width = max(width, len(r))
		}
		headers = make([]string, width)
	}
	return headers, records
}

func texts(cells *goquery.Selection) []string {
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, cellText(c))
	})
	return out
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
