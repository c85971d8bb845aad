package action

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRegex = regexp.MustCompile("{(.*?)}")

// ResolveParams returns a copy of params where every {$.path} token is
// replaced with the value found at that path in data. A string made of a
// single token keeps the looked up value as is.
func ResolveParams(data map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(data, v)
	}
	return output
}

func resolveValue(data map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(data, val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(data, item))
		}
		return out
	case string:
		return resolveString(data, val)
	}
	return v
}

func resolveString(data map[string]any, s string) any {
	tokens := tokenRegex.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && tokens[0] == s {
		if path := strings.Trim(s, "{}"); strings.HasPrefix(path, "$") {
			if value, err := jsonpath.JsonPathLookup(data, path); err == nil {
				return value
			}
		}
		return s
	}
	out := s
	for _, token := range tokens {
		path := strings.Trim(token, "{}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil {
			continue
		}
		out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
	}
	return out
}
