package safety

import "regexp"

type redaction struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers are masked before the looser phone pattern sees them.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`), "[REDACTED_URL]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks contact details before rejected text is retained in the violation log.
func RedactPII(input string) (string, bool) {
	out := input
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.mask)
	}
	return out, out != input
}
