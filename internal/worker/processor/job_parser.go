package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
)

// ParseParams decodes invocation params. Only the shape is checked here;
// locators are validated when they are used.
func ParseParams(raw []byte) (*Params, error) {
	const op = "processor.parse"

	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeBadRequest, op, "invalid params")
	}
	if len(p.Renditions) == 0 {
		return nil, errors.New(errors.CodeBadRequest, "no renditions requested").
			WithField("field", "renditions")
	}
	return &p, nil
}

// UnmarshalJSON accepts the loose truthy forms hosts send ("true", 1, "on").
func (f *Flags) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	*f = Flags{
		DisableSourceDownload: IsTruthy(raw["disableSourceDownload"]),
		DisableRetries:        IsTruthy(raw["disableRetries"]),
		UnitTestMode:          IsTruthy(raw["unitTestMode"]),
	}
	return nil
}

// Normalize returns a copy of p with the host defaults merged into its flags
// and the catalog reference filled when p carries none. p is left untouched.
func Normalize(p *Params, defaults Flags, catalogRef string) *Params {
	out := *p
	out.Renditions = append([]RenditionDescriptor(nil), p.Renditions...)
	out.Flags = p.Flags.Merge(defaults)
	if out.TransformerCatalogRef == "" {
		out.TransformerCatalogRef = catalogRef
	}
	return &out
}

// renditionName picks the local file name of rendition index: the sanitized
// requested name, else rendition<index>.<fmt>.
func renditionName(d RenditionDescriptor, index int) string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return SanitizeFilename(name)
	}
	name := "rendition" + strconv.Itoa(index)
	if fmtExt := strings.TrimPrefix(strings.TrimSpace(d.Fmt), "."); fmtExt != "" {
		name += "." + SanitizeFilename(fmtExt)
	}
	return name
}
