package email

import (
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	stripPolicy *bluemonday.Policy
	policyOnce  sync.Once
)

// PlainText removes all markup from s and returns the remaining text.
// Contents of script and style elements are dropped and HTML entities are
// unescaped, so "<p>Tom &amp; Jerry</p>" becomes "Tom & Jerry".
func PlainText(s string) string {
	policyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return html.UnescapeString(stripPolicy.Sanitize(s))
}
