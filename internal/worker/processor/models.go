package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceDescriptor names the input asset. On the wire it is either a bare
// locator string or an object with a url and an optional file name.
type SourceDescriptor struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

func (d *SourceDescriptor) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = SourceDescriptor{URL: s}
		return nil
	}
	type plain SourceDescriptor
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	*d = SourceDescriptor(p)
	return nil
}

// Target is where a rendition is persisted: one URL, or an ordered list of
// part URLs for a multipart upload. On the wire a target is a string, an
// array of strings or an object {"urls": [...]}.
type Target struct {
	URL   string
	Parts []string
	// Raw keeps a target that was neither a string nor a URL list, so the
	// validation message can name it.
	Raw string
}

// IsMultipart reports whether the target lists part URLs.
func (t Target) IsMultipart() bool {
	return t.Parts != nil
}

// IsZero reports whether no target was given.
func (t Target) IsZero() bool {
	return t.URL == "" && t.Parts == nil && t.Raw == ""
}

func (t *Target) UnmarshalJSON(b []byte) error {
	*t = Target{}
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.URL = s
		return nil
	}

	var parts []string
	if err := json.Unmarshal(b, &parts); err == nil {
		t.Parts = nonNil(parts)
		return nil
	}

	var obj struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(b, &obj); err == nil && obj.URLs != nil {
		t.Parts = nonNil(obj.URLs)
		return nil
	}

	t.Raw = string(b)
	return nil
}

func (t Target) MarshalJSON() ([]byte, error) {
	switch {
	case t.IsMultipart():
		return json.Marshal(t.Parts)
	case t.URL != "":
		return json.Marshal(t.URL)
	default:
		return []byte("null"), nil
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RenditionDescriptor is one requested output. Every key of the wire object,
// known or not, is kept in Instructions for the callback.
type RenditionDescriptor struct {
	Name         string         `json:"name,omitempty"`
	Fmt          string         `json:"fmt,omitempty"`
	Target       Target         `json:"target"`
	Pipeline     bool           `json:"pipeline,omitempty"`
	Instructions map[string]any `json:"-"`
}

func (d *RenditionDescriptor) UnmarshalJSON(b []byte) error {
	type plain RenditionDescriptor
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("rendition: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("rendition: %w", err)
	}
	*d = RenditionDescriptor(p)
	d.Instructions = all
	return nil
}

// Flags switch the execution mode of one invocation.
type Flags struct {
	DisableSourceDownload bool `json:"disableSourceDownload,omitempty"`
	DisableRetries        bool `json:"disableRetries,omitempty"`
	UnitTestMode          bool `json:"unitTestMode,omitempty"`
}

// Merge returns the union of f and other: a flag set on either side is set.
func (f Flags) Merge(other Flags) Flags {
	return Flags{
		DisableSourceDownload: f.DisableSourceDownload || other.DisableSourceDownload,
		DisableRetries:        f.DisableRetries || other.DisableRetries,
		UnitTestMode:          f.UnitTestMode || other.UnitTestMode,
	}
}

// Params are the invocation parameters. They are not mutated once parsed;
// Normalize returns a copy.
type Params struct {
	Source                SourceDescriptor      `json:"source"`
	Renditions            []RenditionDescriptor `json:"renditions"`
	Flags                 Flags                 `json:"flags"`
	TransformerCatalogRef string                `json:"transformerCatalogRef,omitempty"`
}

// Source is the materialized input asset.
type Source struct {
	// URL is the locator as given: a remote URL, or a path relative to the
	// input root in unit-test mode.
	URL  string `json:"url"`
	Name string `json:"name"`
	// Path is where the file lives, or would live when the download was
	// skipped; check Materialized before reading it.
	Path         string `json:"path"`
	Directory    string `json:"directory"`
	Materialized bool   `json:"materialized"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mimetype,omitempty"`
}

// Rendition is one output the callback writes to Path.
type Rendition struct {
	Index        int            `json:"index"`
	Name         string         `json:"name"`
	Fmt          string         `json:"fmt,omitempty"`
	Directory    string         `json:"directory"`
	Path         string         `json:"path"`
	Target       Target         `json:"target"`
	Pipeline     bool           `json:"pipeline,omitempty"`
	Instructions map[string]any `json:"instructions,omitempty"`
}

// Result is returned by both the direct and the pipeline path.
type Result struct {
	Mode       Mode              `json:"mode"`
	Renditions []RenditionResult `json:"renditions"`
}

// RenditionResult reports one persisted rendition. Targets are redacted.
type RenditionResult struct {
	Name    string   `json:"name"`
	Size    int64    `json:"size"`
	Parts   int      `json:"parts"`
	Targets []string `json:"targets"`
}
