package normalizers

import (
	"regexp"
	"strings"
)

var dashRun = regexp.MustCompile(`^-{3,}$`)

var sentinels = map[string]struct{}{
	"null": {},
	"nil":  {},
	"n/a":  {},
	"na":   {},
	"-":    {},
	"--":   {},
}

// IsSentinel reports whether s is a placeholder that means "no data".
func IsSentinel(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || dashRun.MatchString(s) {
		return true
	}
	_, ok := sentinels[strings.ToLower(s)]
	return ok
}

// CleanText trims and collapses whitespace. Sentinels and blank values become nil.
// CleanText(*CleanText(x)) == CleanText(x).
func CleanText(s string) *string {
	if IsSentinel(s) {
		return nil
	}
	out := CollapseWhitespace(s)
	if IsSentinel(out) {
		return nil
	}
	return &out
}

// CleanUpper is CleanText followed by upper-casing.
func CleanUpper(s string) *string {
	out := CleanText(s)
	if out == nil {
		return nil
	}
	up := strings.ToUpper(*out)
	return &up
}

// FirstText returns the first value that survives CleanText.
func FirstText(values ...string) *string {
	for _, v := range values {
		if out := CleanText(v); out != nil {
			return out
		}
	}
	return nil
}
