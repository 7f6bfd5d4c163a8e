// Package redact strips credentials carried in URL query strings, such as
// presigned signatures, from locators and from free text.
package redact

import (
	"net/url"
	"regexp"
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s'"<>]+`)

// URL drops the query and fragment. Unparseable input is returned as-is.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.RawQuery == "" && u.Fragment == "" && !u.ForceQuery) {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.ForceQuery = false
	return u.String()
}

// Text redacts every http(s) URL found in s.
func Text(s string) string {
	if s == "" {
		return s
	}
	return urlPattern.ReplaceAllStringFunc(s, URL)
}
