// Package json ingests JSON records into a storage.TableSpec.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chartql/internal/parser"
	"chartql/internal/storage"
)

// Options control JSON reading.
type Options struct {
	// ArrayJoinSeparator flattens arrays of scalars into one string cell.
	// Empty means ",".
	ArrayJoinSeparator string
	// OnError, when set, receives records that are not objects; they are
	// skipped. When nil such a record fails the read. Syntax errors always
	// fail the read.
	OnError parser.ErrorFunc
}

// record is one decoded object with its keys in document order.
type record struct {
	keys []string
	vals map[string]any
}

func (r *record) set(k string, v any) {
	if _, ok := r.vals[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.vals[k] = v
}

// ReadTable decodes r and returns its records as a table named after name.
//
// Accepted shapes:
//   - A root array: each object element is a record.
//   - A root object holding an array of objects (envelope): the first such
//     array provides the records and the other fields are skipped.
//   - A root object without such a field: one record.
//   - Any of the above followed by further objects (JSON lines).
//
// Columns are the union of record keys in first-seen order, passed through
// identifier.EnsureUnique. Nested objects are flattened to "parent.child"
// keys before sanitizing; arrays of scalars are joined with
// opt.ArrayJoinSeparator; other arrays are kept as their JSON text. Numbers
// become Number cells, strings String cells, booleans Bool cells and null or
// missing keys Null.
func ReadTable(ctx context.Context, r io.Reader, name string, opt Options) (storage.TableSpec, error) {
	sep := opt.ArrayJoinSeparator
	if sep == "" {
		sep = ","
	}

	var (
		headers []string
		rows    []map[string]storage.Value
	)
	seen := make(map[string]struct{})
	emit := func(rec *record) error {
		flat := make(map[string]storage.Value, len(rec.keys))
		for _, k := range rec.keys {
			flattenInto(flat, &headers, seen, k, rec.vals[k], sep)
		}
		rows = append(rows, flat)

		if len(rows)%256 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		return nil
	}

	if err := stream(ctx, r, emit, opt.OnError); err != nil {
		return storage.TableSpec{}, err
	}
	return parser.BuildTableFromValues(name, headers, rows), nil
}

func stream(ctx context.Context, r io.Reader, emit func(*record) error, onErr parser.ErrorFunc) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	line := 0

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArray(ctx, dec, emit, onErr, &line); err != nil {
			return err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}

	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit, &line)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if !streamed {
			line++
			if err := emit(single); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	return streamTrailingObjects(dec, emit, &line)
}

// streamTrailingObjects handles JSON lines after the root value.
func streamTrailingObjects(dec *json.Decoder, emit func(*record) error, line *int) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("json: decode trailing object %d: %w", *line+1, err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing value %d is not an object (got %v)", *line+1, tok)
		}
		rec, err := readObject(dec)
		if err != nil {
			return err
		}
		*line++
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// streamArray streams the elements of the current array ('[' already consumed).
// null elements are skipped.
func streamArray(ctx context.Context, dec *json.Decoder, emit func(*record) error, onErr parser.ErrorFunc, line *int) error {
	for dec.More() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		*line++
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: decode array element %d: %w", *line, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			if err := skipValueFromFirstToken(dec, tok); err != nil {
				return err
			}
			err := fmt.Errorf("json: array element %d is not an object (got %s)", *line, describe(tok))
			if onErr == nil {
				return err
			}
			onErr(*line, err)
			continue
		}

		rec, err := readObject(dec)
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object ('{' already consumed).
//
// The first field holding an array of objects provides the records and the
// remaining fields are skipped. Without such a field the root object itself
// is returned as the single record.
func streamEnvelopeOrSingle(ctx context.Context, dec *json.Decoder, emit func(*record) error, line *int) (streamed bool, single *record, _ error) {
	single = &record{vals: make(map[string]any)}

	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return false, nil, err
		}
		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read value of %q: %w", key, err)
		}
		if streamed {
			if err := skipValueFromFirstToken(dec, valTok); err != nil {
				return true, nil, err
			}
			continue
		}

		val, err := materializeValueFromFirstToken(dec, valTok)
		if err != nil {
			return false, nil, err
		}
		recs, ok := recordArray(val)
		if !ok {
			single.set(key, val)
			continue
		}
		for _, rec := range recs {
			select {
			case <-ctx.Done():
				return false, nil, ctx.Err()
			default:
			}
			*line++
			if err := emit(rec); err != nil {
				return false, nil, err
			}
		}
		streamed = true
	}

	if streamed {
		return true, nil, nil
	}
	return false, single, nil
}

// recordArray reports whether v is a non-empty array whose non-null elements
// are all objects.
func recordArray(v any) ([]*record, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]*record, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		rec, ok := it.(*record)
		if !ok {
			return nil, false
		}
		out = append(out, rec)
	}
	return out, len(out) > 0
}

// readObject reads the members of an object ('{' already consumed) in order,
// including the closing '}'.
func readObject(dec *json.Decoder) (*record, error) {
	rec := &record{vals: make(map[string]any)}
	for dec.More() {
		k, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		vt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read value of %q: %w", k, err)
		}
		v, err := materializeValueFromFirstToken(dec, vt)
		if err != nil {
			return nil, err
		}
		rec.set(k, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return rec, nil
}

func readKey(dec *json.Decoder) (string, error) {
	kt, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("json: read object key: %w", err)
	}
	k, ok := kt.(string)
	if !ok {
		return "", fmt.Errorf("json: object key not a string (got %T)", kt)
	}
	return k, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if end != want {
		return fmt.Errorf("json: expected %q, got %v", want, end)
	}
	return nil
}

func skipValueFromFirstToken(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := readKey(dec); err != nil {
				return err
			}
			vt, err := dec.Token()
			if err != nil {
				return fmt.Errorf("json: skip value: %w", err)
			}
			if err := skipValueFromFirstToken(dec, vt); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	case '[':
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return fmt.Errorf("json: skip value: %w", err)
			}
			if err := skipValueFromFirstToken(dec, vt); err != nil {
				return err
			}
		}
		return expectDelim(dec, ']')
	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeValueFromFirstToken builds a Go value for the current JSON value
// given its first token. Objects keep key order as *record.
func materializeValueFromFirstToken(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		return readObject(dec)
	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read array value: %w", err)
			}
			v, err := materializeValueFromFirstToken(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// flattenInto stores v under key in out, recording new keys in headers.
// Nested objects recurse with "key.child" names.
func flattenInto(out map[string]storage.Value, headers *[]string, seen map[string]struct{}, key string, v any, sep string) {
	if nested, ok := v.(*record); ok {
		for _, k := range nested.keys {
			flattenInto(out, headers, seen, key+"."+k, nested.vals[k], sep)
		}
		return
	}
	if _, ok := seen[key]; !ok {
		seen[key] = struct{}{}
		*headers = append(*headers, key)
	}
	out[key] = toValue(v, sep)
}

func toValue(v any, sep string) storage.Value {
	switch t := v.(type) {
	case nil:
		return storage.Null()
	case bool:
		return storage.Bool(t)
	case string:
		return storage.String(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return storage.Number(f)
		}
		return storage.String(t.String())
	case []any:
		return storage.String(joinArray(t, sep))
	default:
		return storage.String(fmt.Sprint(t))
	}
}

// joinArray joins scalar elements with sep, skipping nulls. An array holding
// objects or arrays is rendered as compact JSON instead.
func joinArray(arr []any, sep string) string {
	parts := make([]string, 0, len(arr))
	for _, it := range arr {
		switch t := it.(type) {
		case nil:
		case string:
			parts = append(parts, t)
		case json.Number:
			parts = append(parts, t.String())
		case bool:
			parts = append(parts, fmt.Sprint(t))
		default:
			b, err := json.Marshal(plain(arr))
			if err != nil {
				return fmt.Sprint(arr)
			}
			return string(b)
		}
	}
	return strings.Join(parts, sep)
}

// plain converts decoded values back into encoding/json friendly shapes.
func plain(v any) any {
	switch t := v.(type) {
	case *record:
		m := make(map[string]any, len(t.keys))
		for _, k := range t.keys {
			m[k] = plain(t.vals[k])
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = plain(it)
		}
		return out
	default:
		return v
	}
}

func describe(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return string(t)
	case json.Number:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", tok)
	}
}
