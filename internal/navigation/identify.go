package navigation

import "strings"

// Identify applies a url-identifier string to url for a request of the
// given type (spec.md §6's "URL identification" algorithm): split at
// '#' and hold the fragment aside, substitute "__type__" in the
// identifier with reqType, fold a leading '?' into '&' when url
// already carries a query string, concatenate, then re-append the
// fragment verbatim.
func Identify(url, identifier, reqType string) string {
	if identifier == "" {
		return url
	}

	base, fragment := url, ""
	if idx := strings.IndexByte(url, '#'); idx >= 0 {
		base, fragment = url[:idx], url[idx:]
	}

	ident := strings.ReplaceAll(identifier, "__type__", reqType)
	if strings.HasPrefix(ident, "?") && strings.Contains(base, "?") {
		ident = "&" + ident[1:]
	}

	return base + ident + fragment
}
