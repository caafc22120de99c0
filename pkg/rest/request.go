package rest

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request describes one logical request. It is immutable once issued: the
// executor copies what it needs before the first attempt.
type Request struct {
	// Method is the HTTP method; empty means GET.
	Method string
	// Path is joined onto the client's base URL.
	Path string
	// Query holds query parameters; empty values are not serialized.
	Query url.Values
	// Header holds per-request headers merged over the client's.
	Header http.Header
	// Body is sonic-marshalled when non-nil. []byte and string pass through.
	Body any
	// Timeout overrides the client timeout when positive.
	Timeout time.Duration
	// Retry overrides the client retry policy when non-nil.
	Retry *Policy
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// buildURL merges base URL, path and query parameters. Only parameters with
// a defined (non-empty) value are serialized.
func buildURL(base string, r Request) (string, error) {
	joined := strings.TrimSuffix(base, "/")
	if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
		joined += "/"
	}
	joined += r.Path

	u, err := url.Parse(joined)
	if err != nil {
		return "", err
	}

	if len(r.Query) > 0 {
		q := u.Query()
		for key, values := range r.Query {
			for _, value := range values {
				if value == "" {
					continue
				}
				q.Add(key, value)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
