// Package identifier turns arbitrary user-supplied sheet and column names into
// safe, unique table/column identifiers for the analytical engines.
//
// An identifier contains only [a-z0-9_], does not start with a digit, is at
// most MaxLen bytes long and is unique among its siblings (the columns of one
// table, or the tables of one registration batch).
package identifier

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxLen is the identifier length limit (Postgres NAMEDATALEN-1).
	MaxLen = 63

	// Fallback is used when nothing survives sanitization.
	Fallback = "column"

	digitPrefix = "col_"
)

var (
	invalidRun = regexp.MustCompile(`[^a-z0-9_]+`)
	valid      = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	lower      = cases.Lower(language.Und)
)

// Sanitize normalizes raw into an identifier.
//
// Steps: lowercase, collapse every run of characters outside [a-z0-9_] into a
// single underscore, trim leading/trailing underscores, fall back to "column"
// when empty, prefix "col_" when the result starts with a digit, truncate to
// MaxLen.
//
// Sanitize is total and idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(raw string) string {
	s := lower.String(raw)
	s = invalidRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return Fallback
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = digitPrefix + s
	}
	return truncate(s)
}

// EnsureUnique sanitizes every value and de-duplicates the results by position.
//
// The first occurrence of a sanitized base keeps it; the Nth repeat (N >= 1)
// becomes "<base>_<N+1>", with base shortened so the whole name fits in
// MaxLen. If such a suffixed name is already taken by an earlier output, the
// counter keeps increasing until a free name is found. The output has the same length and order as raw and is
// deterministic for a given input sequence.
func EnsureUnique(raw []string) []string {
	out := make([]string, len(raw))
	counts := make(map[string]int, len(raw))
	used := make(map[string]struct{}, len(raw))

	for i, r := range raw {
		base := Sanitize(r)
		n := counts[base]
		counts[base] = n + 1

		name := base
		if n > 0 {
			name = suffixed(base, n+1)
		}
		for {
			if _, taken := used[name]; !taken {
				break
			}
			n++
			counts[base] = n + 1
			name = suffixed(base, n+1)
		}

		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

// Valid reports whether s already satisfies the identifier invariants.
func Valid(s string) bool {
	return len(s) <= MaxLen && valid.MatchString(s)
}

// suffixed appends "_<n>" to base, shortening base so the suffix always fits.
func suffixed(base string, n int) string {
	suffix := "_" + strconv.Itoa(n)
	if len(base)+len(suffix) > MaxLen {
		base = base[:MaxLen-len(suffix)]
	}
	return base + suffix
}

// truncate cuts s to MaxLen bytes and drops underscores exposed at the cut so
// the result is still a fixed point of Sanitize. s is ASCII by construction.
func truncate(s string) string {
	if len(s) > MaxLen {
		s = strings.TrimRight(s[:MaxLen], "_")
	}
	return s
}
