package processor

import (
	"net/url"
	"path"
	"strings"

	"github.com/flytam/filenamify"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/redact"
)

// IsTruthy reports whether a loosely typed flag value means "on".
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case int64:
		return t == 1
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s == "1" || s == "true" || s == "yes" || s == "on"
	default:
		return false
	}
}

// SanitizeFilename turns a caller supplied name into a single safe path
// element.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	if out, err := filenamify.Filenamify(s, filenamify.Options{Replacement: "_"}); err == nil {
		s = out
	}
	s = strings.Trim(s, ". ")
	if s == "" {
		return "file"
	}
	return s
}

// ExtFromURL returns the extension of the last path element of a URL,
// ignoring query and fragment.
func ExtFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// RedactURL removes query and fragment from a URL before it is logged or
// reported.
func RedactURL(raw string) string {
	return redact.URL(raw)
}

func redactAll(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = RedactURL(u)
	}
	return out
}

// Redacted returns a copy of p safe to attach to errors and logs: every
// locator, and any URL inside an unrecognized raw target, has its query
// string removed.
func (p *Params) Redacted() *Params {
	out := *p
	out.Source.URL = RedactURL(p.Source.URL)
	out.Renditions = make([]RenditionDescriptor, len(p.Renditions))
	for i, d := range p.Renditions {
		d.Target = Target{URL: RedactURL(d.Target.URL), Raw: redact.Text(d.Target.Raw)}
		if p.Renditions[i].Target.IsMultipart() {
			d.Target.Parts = redactAll(p.Renditions[i].Target.Parts)
		}
		d.Instructions = nil
		out.Renditions[i] = d
	}
	return &out
}
