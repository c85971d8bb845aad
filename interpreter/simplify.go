package interpreter

import (
	"regexp"
	"strings"
)

var (
	asListRegex   = regexp.MustCompile(`T\([\w.$]+\)\.asList\(([^)]*)\)`)
	ctxIndexRegex = regexp.MustCompile(`#\w+\[\s*['"]([^'"]*)['"]\s*\]`)
	ctxDotRegex   = regexp.MustCompile(`#\w+\.(\w+)`)
	quotedRegex   = regexp.MustCompile(`'([^']*)'`)
)

// Simplify rewrites embedded expression fragments into bare field names for
// display. It is never applied to values used for execution.
func Simplify(expr string) string {
	out := asListRegex.ReplaceAllStringFunc(expr, func(m string) string {
		inner := asListRegex.FindStringSubmatch(m)[1]
		items := strings.Split(inner, ",")
		for i := range items {
			items[i] = strings.Trim(strings.TrimSpace(items[i]), `'"`)
		}
		return "[" + strings.Join(items, ", ") + "]"
	})
	out = ctxIndexRegex.ReplaceAllString(out, "$1")
	out = ctxDotRegex.ReplaceAllString(out, "$1")
	out = quotedRegex.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}

// SimplifyParams returns a simplified copy of params.
func SimplifyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = simplifyValue(v)
	}
	return out
}

func simplifyValue(v any) any {
	switch val := v.(type) {
	case string:
		return Simplify(val)
	case map[string]any:
		return SimplifyParams(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = simplifyValue(val[i])
		}
		return out
	}
	return v
}
