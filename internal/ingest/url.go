// ABOUTME: URL acceptance and cache-key normalization for submitted links
package ingest

import (
	"fmt"
	"net/url"
)

var acceptedHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

// ErrHostNotAccepted is returned by ValidateURL for any host outside the v1
// acceptance list.
type ErrHostNotAccepted struct {
	Host string
}

func (e *ErrHostNotAccepted) Error() string {
	return fmt.Sprintf("Only youtube.com, www.youtube.com, m.youtube.com and youtu.be links are supported, got host %q", e.Host)
}

// ValidateURL parses rawURL and rejects anything whose host is not in the
// accepted set.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if !acceptedHosts[u.Hostname()] {
		return nil, &ErrHostNotAccepted{Host: u.Hostname()}
	}
	return u, nil
}

// cacheKey normalizes a URL down to scheme+host+path plus its "v" (video id)
// query parameter, so other query-string variations (tracking params,
// playlist indices) share one probe-cache entry while distinct videos on
// watch?v= URLs do not.
func cacheKey(u *url.URL) string {
	key := u.Scheme + "://" + u.Host + u.Path
	if v := u.Query().Get("v"); v != "" {
		key += "?v=" + v
	}
	return key
}
