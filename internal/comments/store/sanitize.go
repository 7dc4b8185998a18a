package store

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// bodyPolicy keeps the small HTML subset comment bodies may carry:
// a (href/title, attributes optional), code, i, strong. Everything else
// is stripped. bluemonday policies are safe for concurrent use.
var bodyPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("code", "i", "strong")
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowNoAttrs().OnElements("a")
	p.AllowStandardURLs()
	return p
}()

// SanitizeBody reduces body text to the allowed HTML subset. Both backends
// call it on create and edit, so sanitized text is an invariant of stored
// rows rather than a courtesy of one request path.
func SanitizeBody(body string) string {
	return strings.TrimSpace(bodyPolicy.Sanitize(body))
}
