package storage

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValue_JSONEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Value
		want string
	}{
		{name: "null", in: Null(), want: "null"},
		{name: "nan", in: Number(math.NaN()), want: "null"},
		{name: "inf", in: Number(math.Inf(-1)), want: "null"},
		{name: "number", in: Number(12.5), want: "12.5"},
		{name: "bool", in: Bool(true), want: "true"},
		{name: "string", in: String(`a"b`), want: `"a\"b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("json.Marshal err=%v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("json=%s, want %s", b, tt.want)
			}
		})
	}
}

func TestValue_Accessors(t *testing.T) {
	t.Parallel()

	var zero Value
	if !zero.IsNull() || zero.Kind() != KindNull {
		t.Fatalf("zero Value should be Null")
	}
	if !Number(math.NaN()).IsNaN() || String("NaN").IsNaN() {
		t.Fatalf("IsNaN must only hold for NaN numbers")
	}
	if Number(math.NaN()).Any() != nil {
		t.Fatalf("NaN Any() should be nil")
	}
	if got := Kind(9).String(); got != "kind(9)" {
		t.Fatalf("Kind(9).String()=%q", got)
	}
}

func TestRow_MarshalPreservesColumnOrder(t *testing.T) {
	t.Parallel()

	r := NewRow([]string{"zeta", "alpha", "mid"}, []Value{String("z"), Number(1), Null()})

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal err=%v", err)
	}
	if got, want := string(b), `{"zeta":"z","alpha":1,"mid":null}`; got != want {
		t.Fatalf("json=%s, want %s", got, want)
	}

	y, err := yaml.Marshal(r)
	if err != nil {
		t.Fatalf("yaml.Marshal err=%v", err)
	}
	if got, want := string(y), "zeta: z\nalpha: 1\nmid: null\n"; got != want {
		t.Fatalf("yaml=%q, want %q", got, want)
	}
}

func TestRow_GetMissingIsNull(t *testing.T) {
	t.Parallel()

	r := Row{{Name: "a", Value: Number(1)}}
	v, ok := r.Get("b")
	if ok || !v.IsNull() {
		t.Fatalf("Get(missing)=(%v,%v), want (Null,false)", v, ok)
	}
	c := r.Clone()
	c[0].Value = Number(2)
	if v, _ := r.Get("a"); v.Float() != 1 {
		t.Fatalf("Clone shares storage with the original")
	}
}

func TestNewRow_StopsAtShorterSlice(t *testing.T) {
	t.Parallel()

	if got := NewRow([]string{"a", "b"}, []Value{Number(1)}); len(got) != 1 {
		t.Fatalf("len=%d, want 1", len(got))
	}
}

type stringer struct{}

func (stringer) String() string { return "custom" }

func TestFromDriver_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       any
		wantKind Kind
		wantStr  string
	}{
		{name: "nil", in: nil, wantKind: KindNull, wantStr: "NULL"},
		{name: "int64", in: int64(3), wantKind: KindNumber, wantStr: "3"},
		{name: "uint8", in: uint8(7), wantKind: KindNumber, wantStr: "7"},
		{name: "float32", in: float32(0.5), wantKind: KindNumber, wantStr: "0.5"},
		{name: "big_float", in: big.NewFloat(2.25), wantKind: KindNumber, wantStr: "2.25"},
		{name: "bytes", in: []byte("12.50"), wantKind: KindString, wantStr: "12.50"},
		{name: "time", in: time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)), wantKind: KindString, wantStr: "2026-01-02T02:04:05Z"},
		{name: "stringer", in: stringer{}, wantKind: KindString, wantStr: "custom"},
		{name: "fallback", in: struct{ A int }{1}, wantKind: KindString, wantStr: "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromDriver(tt.in)
			if got.Kind() != tt.wantKind || got.String() != tt.wantStr {
				t.Fatalf("FromDriver(%v)=%s(%s), want %s(%s)", tt.in, got.Kind(), got, tt.wantKind, tt.wantStr)
			}
		})
	}
}

func TestNumericText(t *testing.T) {
	t.Parallel()

	if got := NumericText(String(" 12.50 ")); got.Kind() != KindNumber || got.Float() != 12.5 {
		t.Fatalf("NumericText(12.50)=%v", got)
	}
	if got := NumericText(String("n/a")); got.Kind() != KindString {
		t.Fatalf("NumericText(n/a) kind=%s, want string", got.Kind())
	}
	if got := NumericText(Null()); !got.IsNull() {
		t.Fatalf("NumericText(Null) = %v", got)
	}
	if !strings.Contains(Number(1e21).String(), "e+21") {
		t.Fatalf("large numbers should format compactly")
	}
}

func TestIntBool(t *testing.T) {
	t.Parallel()

	if got := IntBool(Number(1)); got.Kind() != KindBool || !got.Bool() {
		t.Fatalf("IntBool(1)=%s(%v)", got.Kind(), got)
	}
	if got := IntBool(Number(0)); got.Kind() != KindBool || got.Bool() {
		t.Fatalf("IntBool(0)=%s(%v)", got.Kind(), got)
	}
	if got := IntBool(Null()); !got.IsNull() {
		t.Fatalf("IntBool(Null)=%v", got)
	}
	if got := IntBool(String("yes")); got.Kind() != KindString {
		t.Fatalf("IntBool(yes) kind=%s, want string", got.Kind())
	}
}
