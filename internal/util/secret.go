package util

import "strings"

// NormalizeSecret trims whitespace and strips one layer of surrounding
// quotes. Secrets pasted into dashboards routinely arrive as `"abc"` or
// `'abc'`, and a mismatched HMAC secret is miserable to diagnose.
func NormalizeSecret(v string) string {
	s := strings.TrimSpace(v)
	if len(s) >= 2 {
		if (strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)) ||
			(strings.HasPrefix(s, `'`) && strings.HasSuffix(s, `'`)) {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
