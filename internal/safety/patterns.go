package safety

import "regexp"

type inputPattern struct {
	name  string
	match func(string) bool
}

func regexPattern(name, expr string) inputPattern {
	re := regexp.MustCompile(expr)
	return inputPattern{name: name, match: re.MatchString}
}

// Caps runs are matched case-sensitively; everything else ignores case where letters matter.
var inputPatterns = []inputPattern{
	regexPattern("url", `(?i)https?://\S+`),
	regexPattern("www", `(?i)www\.\S+`),
	regexPattern("email", `\S+@\S+\.\S+`),
	regexPattern("domain", `(?i)\b[a-z0-9-]+\.(?:com|net|org|io|co|edu|gov|info|biz|me|app|dev|uk|us|ca|tv|xyz)\b`),
	regexPattern("phone", `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	regexPattern("zip", `\b\d{5}(?:-\d{4})?\b`),
	regexPattern("address", `(?i)\b\d+\s+\w+\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b`),
	regexPattern("handle", `@\w+`),
	regexPattern("hashtag", `#\w+`),
	regexPattern("card", `\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
	{name: "repeated_chars", match: func(s string) bool { return hasRepeatedRun(s, 5) }},
	regexPattern("shouting", `\b[A-Z]{5,}\b.*\b[A-Z]{5,}\b.*\b[A-Z]{5,}\b`),
}

// hasRepeatedRun reports whether any rune repeats n or more times in a row.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func matchInputPattern(text string) (string, bool) {
	for _, p := range inputPatterns {
		if p.match(text) {
			return p.name, true
		}
	}
	return "", false
}
