package processor

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/errors"
)

const (
	msgMissingURL       = "Invalid or Missing Url "
	msgInvalidHTTPS     = "Invalid Https Url: "
	msgInvalidLocalFile = "Invalid or missing local file: "
)

// ValidateSourceLocator checks a source locator. In normal mode it must be
// an absolute https URL and is returned unchanged. In unit-test mode it is a
// path relative to inputRoot and the resolved local path is returned.
func ValidateSourceLocator(locator string, unitTestMode bool, inputRoot string) (string, error) {
	if unitTestMode {
		return resolveLocalFile(locator, inputRoot)
	}
	return validateHTTPS(locator)
}

// ValidateTargetLocator checks a rendition target and returns its URLs in
// upload order. A multipart target fails as a whole if any part is invalid.
func ValidateTargetLocator(t Target) ([]string, error) {
	if t.IsMultipart() {
		if len(t.Parts) == 0 {
			return nil, errors.New(errors.CodeMissingURL, msgMissingURL)
		}
		for _, part := range t.Parts {
			if _, err := validateHTTPS(part); err != nil {
				return nil, errors.New(errors.CodeInvalidURL, msgMissingURL).
					WithField(errors.FieldURL, RedactURL(part))
			}
		}
		return append([]string(nil), t.Parts...), nil
	}

	raw := t.URL
	if raw == "" {
		raw = t.Raw
	}
	u, err := validateHTTPS(raw)
	if err != nil {
		return nil, err
	}
	return []string{u}, nil
}

func validateHTTPS(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New(errors.CodeMissingURL, msgMissingURL)
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", errors.New(errors.CodeInvalidURL, msgMissingURL+raw).
			WithField(errors.FieldURL, RedactURL(raw))
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return "", errors.New(errors.CodeInvalidURL, msgInvalidHTTPS+raw).
			WithField(errors.FieldURL, RedactURL(raw))
	}
	return raw, nil
}

// resolveLocalFile joins locator onto root and accepts the result only if,
// with symlinks resolved, it is a regular file strictly inside root.
func resolveLocalFile(locator, root string) (string, error) {
	invalid := func() error {
		return errors.New(errors.CodeInvalidLocalFile, msgInvalidLocalFile+locator).
			WithField(errors.FieldURL, locator)
	}

	if strings.TrimSpace(locator) == "" || root == "" {
		return "", invalid()
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", invalid()
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", invalid()
	}

	candidate := filepath.Join(rootAbs, filepath.FromSlash(locator))
	if !isStrictlyInside(candidate, rootAbs) {
		return "", invalid()
	}
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil || !isStrictlyInside(real, rootReal) {
		return "", invalid()
	}

	info, err := os.Stat(real)
	if err != nil || !info.Mode().IsRegular() {
		return "", invalid()
	}
	return candidate, nil
}

// isStrictlyInside reports whether path lies below base; base itself does
// not count.
func isStrictlyInside(path, base string) bool {
	path = filepath.Clean(path)
	base = filepath.Clean(base)
	if path == base {
		return false
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(base, sep) {
		base += sep
	}
	return strings.HasPrefix(path, base)
}
