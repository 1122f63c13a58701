// Package tracking captures marketing click identifiers (gclid and friends)
// from the page URL and keeps them in first-party cookies so a later form
// submission can carry them in a hidden field.
package tracking

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultParams are the click identifiers tracked when none are configured.
var DefaultParams = []string{"gclid", "gbraid", "wbraid"}

// Config configures which parameters are tracked and how cookies are written.
type Config struct {
	// Params are lower-case query parameter names.
	Params []string

	// Prefix is prepended to the parameter name to form the cookie name.
	Prefix string

	// MaxAge is the cookie lifetime.
	MaxAge time.Duration

	// MaxLength is the longest accepted value.
	MaxLength int
}

// DefaultConfig returns the default tracking configuration.
func DefaultConfig() Config {
	return Config{
		Params:    append([]string(nil), DefaultParams...),
		Prefix:    "ef_track_",
		MaxAge:    30 * 24 * time.Hour,
		MaxLength: 200,
	}
}

// ParseParams splits a comma-separated parameter list. Names are trimmed and
// lower-cased; an empty list yields DefaultParams.
func ParseParams(csv string) []string {
	var params []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			params = append(params, p)
		}
	}
	if len(params) == 0 {
		return append([]string(nil), DefaultParams...)
	}
	return params
}

var valuePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// CookieStore reads and writes the cookies visible to the current page.
type CookieStore interface {
	Get(name string) (string, bool)
	Set(cookie *http.Cookie)
}

// Store reads tracked parameters from a page URL and its cookies.
type Store struct {
	config  Config
	page    *url.URL
	cookies CookieStore
	now     func() time.Time
}

// NewStore creates a store for the given page. Zero config fields fall back
// to DefaultConfig.
func NewStore(page *url.URL, cookies CookieStore, config Config) *Store {
	def := DefaultConfig()
	if len(config.Params) == 0 {
		config.Params = def.Params
	}
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.MaxAge == 0 {
		config.MaxAge = def.MaxAge
	}
	if config.MaxLength == 0 {
		config.MaxLength = def.MaxLength
	}
	params := make([]string, 0, len(config.Params))
	for _, p := range config.Params {
		params = append(params, strings.ToLower(strings.TrimSpace(p)))
	}
	config.Params = params
	if page == nil {
		page = &url.URL{}
	}
	return &Store{config: config, page: page, cookies: cookies, now: time.Now}
}

// Params returns the tracked parameter names.
func (s *Store) Params() []string {
	return s.config.Params
}

// CookieName returns the cookie holding param.
func (s *Store) CookieName(param string) string {
	return s.config.Prefix + param
}

// Valid reports whether v is an acceptable tracking value.
func (s *Store) Valid(v string) bool {
	return len(v) <= s.config.MaxLength && valuePattern.MatchString(v)
}

// CaptureFromURL persists every valid tracked parameter of the page URL into
// its own cookie. Invalid values are skipped. Calling it again with the same
// URL rewrites the same cookies.
func (s *Store) CaptureFromURL() int {
	if s.cookies == nil {
		return 0
	}

	captured := 0
	for param, value := range s.fromURL() {
		cookie := &http.Cookie{
			Name:     s.CookieName(param),
			Value:    url.QueryEscape(value),
			Path:     "/",
			Expires:  s.now().Add(s.config.MaxAge),
			MaxAge:   int(s.config.MaxAge / time.Second),
			SameSite: http.SameSiteLaxMode,
			Secure:   s.page.Scheme == "https",
		}
		s.cookies.Set(cookie)
		captured++
	}
	return captured
}

// Values merges URL and cookie values; the URL wins when both are present.
func (s *Store) Values() map[string]string {
	merged := make(map[string]string)

	if s.cookies != nil {
		for _, param := range s.config.Params {
			raw, ok := s.cookies.Get(s.CookieName(param))
			if !ok {
				continue
			}
			value, err := url.QueryUnescape(raw)
			if err != nil || !s.Valid(value) {
				continue
			}
			merged[param] = value
		}
	}

	for param, value := range s.fromURL() {
		merged[param] = value
	}
	return merged
}

// MergedValue formats Values as a query string in tracked-parameter order,
// e.g. "gclid=abc123&gbraid=xyz456". It is empty when nothing is tracked.
func (s *Store) MergedValue() string {
	values := s.Values()

	var parts []string
	for _, param := range s.config.Params {
		if v, ok := values[param]; ok {
			parts = append(parts, url.QueryEscape(param)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// fromURL returns the valid tracked parameters of the page URL. Names match
// case-insensitively; the first valid occurrence of a name wins.
func (s *Store) fromURL() map[string]string {
	out := make(map[string]string)
	if s.page.RawQuery == "" {
		return out
	}

	tracked := make(map[string]bool, len(s.config.Params))
	for _, p := range s.config.Params {
		tracked[p] = true
	}

	// Query() is a map, so walk the raw query to keep the page's order.
	for _, pair := range strings.Split(s.page.RawQuery, "&") {
		name, value, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		param := strings.ToLower(name)
		if !tracked[param] {
			continue
		}
		if _, dup := out[param]; dup {
			continue
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			continue
		}
		if s.Valid(value) {
			out[param] = value
		}
	}
	return out
}
