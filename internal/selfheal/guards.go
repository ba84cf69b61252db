package selfheal

import (
	"regexp"
	"strings"
)

var (
	aggregateCall   = regexp.MustCompile(`(?i)\b(SUM|AVG|COUNT|MIN|MAX)\s*\(`)
	divisionOperand = regexp.MustCompile(`^\s*(\w+(?:\.\w+)*)`)
	distinctPrefix  = regexp.MustCompile(`(?i)^DISTINCT\s+`)
)

// ApplyNullSafetyGuards rewrites sql so aggregates and divisions cannot turn
// NULLs or zero denominators into NULL/NaN results.
//
// Two textual rewrites are applied, each to every match in one pass:
//
//   - AGG(expr) -> AGG(COALESCE(expr, 0)) for SUM, AVG, COUNT, MIN, MAX
//     (case-insensitive). COUNT(*) is left alone and AGG(DISTINCT expr)
//     becomes AGG(DISTINCT COALESCE(expr, 0)).
//   - / operand -> / NULLIF(operand, 0), where operand is one identifier or
//     number token (dotted names allowed), optionally followed by a single
//     call argument list such as COUNT(id). Parenthesised expressions like
//     "/ (a + b)" are not guarded.
//
// Text inside quoted literals, quoted identifiers and comments is never
// rewritten. The transform is pattern based, not a SQL parser, and is
// cumulative: applying it to its own output wraps guards again
// but keeps the statement syntactically valid.
func ApplyNullSafetyGuards(sql string) string {
	return guardDivisions(guardAggregates(sql))
}

func guardAggregates(sql string) string {
	opaque := opaqueMask(sql)

	var b strings.Builder
	b.Grow(len(sql) + 32)
	last := 0
	for _, m := range aggregateCall.FindAllStringIndex(sql, -1) {
		start, open := m[0], m[1]-1
		if start < last || opaque[start] {
			continue
		}
		end := matchParen(sql, open, opaque)
		if end < 0 {
			continue
		}
		wrapped, ok := coalesceArg(sql[open+1 : end])
		if !ok {
			continue
		}
		b.WriteString(sql[last : open+1])
		b.WriteString(wrapped)
		last = end
	}
	b.WriteString(sql[last:])
	return b.String()
}

func coalesceArg(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" || arg == "*" {
		return "", false
	}
	if loc := distinctPrefix.FindStringIndex(arg); loc != nil {
		rest := strings.TrimSpace(arg[loc[1]:])
		if rest == "" {
			return "", false
		}
		return arg[:loc[1]] + "COALESCE(" + rest + ", 0)", true
	}
	return "COALESCE(" + arg + ", 0)", true
}

func guardDivisions(sql string) string {
	opaque := opaqueMask(sql)

	var b strings.Builder
	b.Grow(len(sql) + 32)
	last := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != '/' || opaque[i] {
			continue
		}
		loc := divisionOperand.FindStringSubmatchIndex(sql[i+1:])
		if loc == nil {
			continue
		}
		opStart, opEnd := i+1+loc[2], i+1+loc[3]

		// Include one trailing call argument list: COUNT(id), ROUND(x, 2).
		k := opEnd
		for k < len(sql) && (sql[k] == ' ' || sql[k] == '\t') {
			k++
		}
		if k < len(sql) && sql[k] == '(' {
			if end := matchParen(sql, k, opaque); end >= 0 {
				opEnd = end + 1
			}
		}

		b.WriteString(sql[last:i])
		b.WriteString("/ NULLIF(")
		b.WriteString(sql[opStart:opEnd])
		b.WriteString(", 0)")
		last = opEnd
		i = opEnd - 1
	}
	b.WriteString(sql[last:])
	return b.String()
}

// matchParen returns the index of the ')' closing the '(' at open, or -1.
func matchParen(sql string, open int, opaque []bool) int {
	depth := 0
	for i := open; i < len(sql); i++ {
		if opaque[i] {
			continue
		}
		switch sql[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// opaqueMask marks bytes inside '...' literals, "..." identifiers, /* */ and
// -- comments. Unterminated regions run to the end of the statement.
//
// Postgres escape strings (E'a\'b') honor backslash escapes. Dollar-quoted
// bodies ($$...$$) are not recognized; a '/' inside one can be rewritten.
func opaqueMask(sql string) []bool {
	mask := make([]bool, len(sql))
	mark := func(from, to int) {
		for j := from; j < to; j++ {
			mask[j] = true
		}
	}

	for i := 0; i < len(sql); {
		switch {
		case sql[i] == '\'' || sql[i] == '"':
			q := sql[i]
			escapes := q == '\'' && isEscapeStringPrefix(sql, i)
			j := i + 1
			for j < len(sql) {
				if escapes && sql[j] == '\\' {
					j += 2
					continue
				}
				if sql[j] == q {
					if j+1 < len(sql) && sql[j+1] == q {
						j += 2
						continue
					}
					break
				}
				j++
			}
			end := min(j+1, len(sql))
			mark(i, end)
			i = end
		case strings.HasPrefix(sql[i:], "/*"):
			end := len(sql)
			if k := strings.Index(sql[i+2:], "*/"); k >= 0 {
				end = i + 2 + k + 2
			}
			mark(i, end)
			i = end
		case strings.HasPrefix(sql[i:], "--"):
			end := len(sql)
			if k := strings.IndexByte(sql[i:], '\n'); k >= 0 {
				end = i + k
			}
			mark(i, end)
			i = end
		default:
			i++
		}
	}
	return mask
}

// isEscapeStringPrefix reports whether the quote at i opens a Postgres E'...'
// literal: it follows a lone E or e that is not the end of a longer word.
func isEscapeStringPrefix(sql string, i int) bool {
	if i < 1 || (sql[i-1] != 'E' && sql[i-1] != 'e') {
		return false
	}
	if i < 2 {
		return true
	}
	switch c := sql[i-2]; {
	case c == '_', '0' <= c && c <= '9', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		return false
	}
	return true
}
