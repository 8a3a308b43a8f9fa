// Package sanitize strips markup from user input and checks it against the
// syntax each form field declares.
package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var schemeRe = regexp.MustCompile(`(?i)(javascript|data|vbscript):`)

// Elements whose text content is dropped along with the tags. embed and frame
// are void, so stripping the tag is all there is to do.
var droppedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"object":   true,
	"form":     true,
	"noscript": true,
	"template": true,
}

// maxStripPasses bounds the fixpoint loop. Each pass undoes one level of
// entity or scheme nesting.
const maxStripPasses = 8

// StripMarkup returns the text content of s with every tag, comment and
// script-bearing element removed and dangerous URI schemes erased. The result
// is trimmed and StripMarkup(StripMarkup(s)) == StripMarkup(s). Input nested
// deeper than maxStripPasses strips to "".
func StripMarkup(s string) string {
	out, _ := strip(s)
	return out
}

// strip reports false when s did not settle within maxStripPasses.
func strip(s string) (string, bool) {
	s = strings.ReplaceAll(s, "\x00", "")
	// Each changing pass consumes tag or entity syntax. Entities that decode
	// into new markup are caught by the next pass.
	for range maxStripPasses {
		next := stripOnce(s)
		if next == s {
			return s, true
		}
		s = next
	}
	return "", false
}

func stripOnce(s string) string {
	s = schemeRe.ReplaceAllString(s, "")
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF is the only error a strings.Reader can produce
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if droppedElements[string(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if droppedElements[string(name)] && depth > 0 {
				depth--
			}
		case html.SelfClosingTagToken, html.CommentToken, html.DoctypeToken:
		}
	}
}

// SanitizeFields strips markup from every string value in fields except the
// excluded keys. Other values are copied as they are. fields is not modified.
func SanitizeFields(fields map[string]any, exclude ...string) map[string]any {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && !skip[k] {
			out[k] = StripMarkup(s)
			continue
		}
		out[k] = v
	}
	return out
}
