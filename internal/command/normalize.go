package command

import (
	"regexp"
	"strings"
)

var contractions = []struct{ from, to string }{
	{"won't", "will not"},
	{"don't", "do not"},
	{"can't", "cannot"},
	{"i'll", "i will"},
	{"i'm", "i am"},
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	separatorRe  = regexp.MustCompile(`[,;]`)
	terminatorRe = regexp.MustCompile(`[.!?]+`)
)

// Normalize canonicalizes raw message text before matching: lower case,
// trimmed, common contractions expanded, whitespace collapsed, ";" folded
// into "," and runs of sentence terminators folded into a single ".".
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "’", "'")
	for _, c := range contractions {
		s = strings.ReplaceAll(s, c.from, c.to)
	}
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = separatorRe.ReplaceAllString(s, ",")
	return terminatorRe.ReplaceAllString(s, ".")
}
