// Package sanitize strips untrusted markup from chat content.
// Inbound user text is reduced to plain text; model output keeps a small
// allow-list of inline formatting tags.
package sanitize

import (
	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy = bluemonday.StrictPolicy()
	htmlPolicy = newHTMLPolicy()
)

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "p", "br", "ul", "ol", "li", "code", "pre")
	p.AllowStandardURLs()
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	return p
}

// Text removes all markup, keeping the text content.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return textPolicy.Sanitize(input)
}

// HTML keeps only the allowed inline formatting tags and link attributes.
func HTML(input string) string {
	if input == "" {
		return ""
	}
	return htmlPolicy.Sanitize(input)
}
