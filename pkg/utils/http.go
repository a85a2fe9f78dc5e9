// Package utils provides common utility functions.
package utils

import (
	"net/http"
	"net/url"
)

// UserAgent identifies the pipeline to remote servers.
const UserAgent = "Mozilla/5.0 (compatible; etenders-pipeline/1.0)"

// HTTPHelper provides HTTP utility functions.
type HTTPHelper struct{}

// NewHTTPHelper creates a new HTTP helper.
func NewHTTPHelper() *HTTPHelper {
	return &HTTPHelper{}
}

// IsValidURL reports whether raw is an absolute http(s) URL.
func (h *HTTPHelper) IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolveURL makes ref absolute against base. ref is returned unchanged when
// either side does not parse.
func (h *HTTPHelper) ResolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}

	b, err := url.Parse(base)
	if err != nil {
		return ref
	}

	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return b.ResolveReference(r).String()
}

// BuildHeaders creates HTTP headers with defaults.
func (h *HTTPHelper) BuildHeaders(customHeaders map[string]string) http.Header {
	headers := http.Header{}

	headers.Set("User-Agent", UserAgent)
	headers.Set("Accept", "text/html,application/xhtml+xml,application/pdf,application/json;q=0.9,*/*;q=0.8")

	for key, value := range customHeaders {
		headers.Set(key, value)
	}

	return headers
}
