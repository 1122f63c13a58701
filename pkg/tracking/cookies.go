package tracking

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// NewJar returns a cookie jar that applies public-suffix domain rules.
func NewJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// JarCookies exposes the cookies an http.CookieJar holds for one page URL,
// the way a browser exposes document.cookie.
type JarCookies struct {
	Jar  http.CookieJar
	Page *url.URL
}

func (c JarCookies) Get(name string) (string, bool) {
	for _, cookie := range c.Jar.Cookies(c.Page) {
		if cookie.Name == name {
			return cookie.Value, true
		}
	}
	return "", false
}

func (c JarCookies) Set(cookie *http.Cookie) {
	c.Jar.SetCookies(c.Page, []*http.Cookie{cookie})
}

// RequestCookies reads cookies from an incoming request and writes new ones
// to the response. Values set during the request are visible to later Gets.
type RequestCookies struct {
	r *http.Request
	w http.ResponseWriter

	mu  sync.Mutex
	set map[string]string
}

// NewRequestCookies wraps a request/response pair.
func NewRequestCookies(w http.ResponseWriter, r *http.Request) *RequestCookies {
	return &RequestCookies{r: r, w: w, set: make(map[string]string)}
}

func (c *RequestCookies) Get(name string) (string, bool) {
	c.mu.Lock()
	v, ok := c.set[name]
	c.mu.Unlock()
	if ok {
		return v, true
	}

	cookie, err := c.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

func (c *RequestCookies) Set(cookie *http.Cookie) {
	c.mu.Lock()
	c.set[cookie.Name] = cookie.Value
	c.mu.Unlock()

	if c.w != nil {
		http.SetCookie(c.w, cookie)
	}
}

// MemoryCookies is a plain in-memory cookie store.
type MemoryCookies struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// NewMemoryCookies creates an empty store.
func NewMemoryCookies() *MemoryCookies {
	return &MemoryCookies{cookies: make(map[string]*http.Cookie)}
}

func (c *MemoryCookies) Get(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cookie, ok := c.cookies[name]
	if !ok {
		return "", false
	}
	return cookie.Value, true
}

func (c *MemoryCookies) Set(cookie *http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[cookie.Name] = cookie
}

// Cookie returns the full cookie last written under name.
func (c *MemoryCookies) Cookie(name string) *http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookies[name]
}

// Len returns the number of stored cookies.
func (c *MemoryCookies) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cookies)
}
