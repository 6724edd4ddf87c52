package sources

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrUnsafeQuery is returned for custom queries that fail bind validation.
var ErrUnsafeQuery = errors.New("unsafe query")

var (
	bindPattern    = regexp.MustCompile(`\?|\$\d+|:\d+|:[A-Za-z_]\w*`)
	numericLiteral = regexp.MustCompile(`(?i)(=|<>|!=|<=|>=|<|>|\bin\s*\(|\bbetween\b|\band\b|\blimit\b)\s*-?\d+(\.\d+)?\b`)
	readOnlyPrefix = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
)

// maskStringLiterals replaces quoted literals with placeholders so that bind
// marker detection does not look inside them. It returns the masked text and
// the number of literals found.
func maskStringLiterals(query string) (string, int) {
	if !strings.ContainsAny(query, `'"`) {
		return query, 0
	}
	var b strings.Builder
	b.Grow(len(query))
	n := 0
	for i := 0; i < len(query); {
		ch := query[i]
		if ch != '\'' && ch != '"' {
			b.WriteByte(ch)
			i++
			continue
		}
		quote := ch
		i++
		for i < len(query) {
			if query[i] == quote {
				if i+1 < len(query) && query[i+1] == quote {
					i += 2
					continue
				}
				break
			}
			i++
		}
		if i < len(query) {
			i++
		}
		// Double quotes delimit identifiers, not values.
		if quote == '\'' {
			n++
			fmt.Fprintf(&b, "__STR_%d__", n)
		} else {
			b.WriteString("__IDENT__")
		}
	}
	return b.String(), n
}

// ValidateQuery enforces the rules for custom warehouse queries: read-only,
// at least one bind variable, no literal values mixed with bind variables, one
// argument per distinct marker, and only scalar argument types.
func ValidateQuery(query string, args []any) error {
	if !readOnlyPrefix.MatchString(query) {
		return fmt.Errorf("%w: only SELECT queries are allowed", ErrUnsafeQuery)
	}

	masked, literals := maskStringLiterals(query)
	masked = strings.ReplaceAll(masked, "::", "  ")

	markers := bindPattern.FindAllString(masked, -1)
	if len(markers) == 0 {
		return fmt.Errorf("%w: query has no bind variables", ErrUnsafeQuery)
	}
	if literals > 0 || numericLiteral.MatchString(masked) {
		return fmt.Errorf("%w: query mixes literal values with bind variables", ErrUnsafeQuery)
	}

	want := 0
	seen := make(map[string]struct{})
	for _, m := range markers {
		if m == "?" {
			want++
			continue
		}
		if _, ok := seen[m]; !ok {
			seen[m] = struct{}{}
			want++
		}
	}
	if want != len(args) {
		return fmt.Errorf("%w: %d bind variables but %d arguments", ErrUnsafeQuery, want, len(args))
	}

	for i, a := range args {
		switch a.(type) {
		case string, int, int32, int64, float64, time.Time:
		default:
			return fmt.Errorf("%w: argument %d has unsupported type %T", ErrUnsafeQuery, i+1, a)
		}
	}
	return nil
}
