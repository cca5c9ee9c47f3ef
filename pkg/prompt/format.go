// Package prompt flattens session state into template values and fills {key} placeholders.
package prompt

import (
	"regexp"
	"slices"
)

// placeholderPattern matches {identifier} where identifier is ASCII letters, digits or underscore.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// NotFound returns the marker substituted for an absent key.
func NotFound(key string) string {
	return "{" + key + "_NOT_FOUND}"
}

// Format replaces every {key} in template with values[key] in a single pass.
// Keys with no value become {key_NOT_FOUND}. Substituted text is never rescanned,
// so values containing braces are emitted as-is.
func Format(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := values[key]; ok {
			return v
		}
		return NotFound(key)
	})
}

// Placeholders returns the keys referenced by template in first-seen order.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(keys, m[1]) {
			keys = append(keys, m[1])
		}
	}
	return keys
}
