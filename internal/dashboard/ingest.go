package dashboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chartql/internal/config"
	"chartql/internal/identifier"
	csvparser "chartql/internal/parser/csv"
	htmlparser "chartql/internal/parser/html"
	jsonparser "chartql/internal/parser/json"
	"chartql/internal/storage"
)

// LoadSources ingests every source and returns the tables to register.
//
// Table names are made unique across the whole batch with
// identifier.EnsureUnique, in source order. A source's Rename and Exclude
// rules are applied to each table it produced.
//
// Errors:
//   - a source that cannot be opened or parsed (wrapped with its index).
//   - a Rename/Exclude rule naming an unknown column, or a rename collision
//     (storage.ErrColumnExists).
func LoadSources(ctx context.Context, sources []config.Source) ([]storage.TableSpec, error) {
	var out []storage.TableSpec
	for i, s := range sources {
		tables, err := LoadSource(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("dashboard: sources[%d] %s: %w", i, s.Path, err)
		}
		out = append(out, tables...)
	}

	names := make([]string, len(out))
	for i, t := range out {
		names[i] = t.Name
	}
	for i, n := range identifier.EnsureUnique(names) {
		out[i].Name = n
	}
	return out, nil
}

// LoadSource reads one source file. CSV and JSON sources yield one table,
// HTML sources one per matched <table>.
func LoadSource(ctx context.Context, s config.Source) ([]storage.TableSpec, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := s.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
	}

	var tables []storage.TableSpec
	switch format := config.SourceFormat(s); format {
	case "csv":
		comma, err := config.SourceComma(s)
		if err != nil {
			return nil, err
		}
		t, err := csvparser.ReadTable(ctx, f, name, csvparser.Options{Comma: comma, NoHeader: s.NoHeader, LazyQuotes: true})
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	case "json":
		t, err := jsonparser.ReadTable(ctx, f, name, jsonparser.Options{ArrayJoinSeparator: s.ArrayJoinSeparator})
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	case "html":
		tables, err = htmlparser.ReadTables(ctx, f, name, htmlparser.Options{Selector: s.Selector})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	for i := range tables {
		if err := applyColumnRules(&tables[i], s); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func applyColumnRules(t *storage.TableSpec, s config.Source) error {
	index := func(name string) int {
		for i, c := range t.Columns {
			if c.Name == name {
				return i
			}
		}
		return -1
	}

	for _, name := range s.Exclude {
		i := index(name)
		if i < 0 {
			return fmt.Errorf("exclude: table %s has no column %q", t.Name, name)
		}
		t.Columns[i].Included = false
	}

	// Sorted for a deterministic outcome when renames chain into each other.
	from := make([]string, 0, len(s.Rename))
	for k := range s.Rename {
		from = append(from, k)
	}
	sort.Strings(from)
	for _, old := range from {
		i := index(old)
		if i < 0 {
			return fmt.Errorf("rename: table %s has no column %q", t.Name, old)
		}
		if _, err := t.RenameColumn(i, s.Rename[old]); err != nil {
			return err
		}
	}
	return nil
}
