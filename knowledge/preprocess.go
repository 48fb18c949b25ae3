package knowledge

import (
	"regexp"
	"strings"
)

// Patterns applied by Preprocess, in order. Order matters: markdown link
// bodies must be unwrapped before bare URLs are removed, and whitespace is
// collapsed only after everything else has been cut out.
var (
	reCodeFence  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`[^`]*`")
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	reImageLink  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reURL        = regexp.MustCompile(`(https?://|www\.)\S+`)
	reHTMLTag    = regexp.MustCompile(`<[^>]*>`)
	reEmphasis   = regexp.MustCompile(`[*_~]{1,3}`)
	reHorizRule  = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Preprocess normalizes raw document text for chunking and embedding: code
// fences, inline code, markdown markup, URLs, and HTML tags are stripped,
// whitespace is collapsed, and the result is lowercased.
//
// The function is pure and idempotent: Preprocess(Preprocess(x)) ==
// Preprocess(x). Index and Retrieve rely on that so a stored fragment and a
// query normalize identically.
func Preprocess(text string) string {
	out := reCodeFence.ReplaceAllString(text, "")
	out = reInlineCode.ReplaceAllString(out, "")
	out = reHeading.ReplaceAllString(out, "")
	out = reImageLink.ReplaceAllString(out, "$1")
	out = reLink.ReplaceAllString(out, "$1")
	out = reURL.ReplaceAllString(out, "")
	out = reHTMLTag.ReplaceAllString(out, "")
	out = reHorizRule.ReplaceAllString(out, "")
	out = reEmphasis.ReplaceAllString(out, "")
	out = reWhitespace.ReplaceAllString(out, " ")
	return strings.ToLower(strings.TrimSpace(out))
}
