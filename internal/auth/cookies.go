package auth

import (
	"net/http"
	"time"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
)

// CookieCodec is the only place session cookies are built. Secure may only
// be turned off for local HTTP development.
type CookieCodec struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RememberTTL replaces RefreshTTL when the user asked to be remembered.
	RememberTTL time.Duration
}

func NewCookieCodec(secure bool, accessTTL, refreshTTL, rememberTTL time.Duration) CookieCodec {
	return CookieCodec{
		Secure:      secure,
		AccessTTL:   accessTTL,
		RefreshTTL:  refreshTTL,
		RememberTTL: rememberTTL,
	}
}

func (c CookieCodec) base(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c CookieCodec) EncodeAccess(value string) *http.Cookie {
	cookie := c.base(AccessCookieName)
	cookie.Value = value
	cookie.MaxAge = int(c.AccessTTL.Seconds())
	return cookie
}

func (c CookieCodec) EncodeRefresh(value string, rememberMe bool) *http.Cookie {
	ttl := c.RefreshTTL
	if rememberMe {
		ttl = c.RememberTTL
	}
	cookie := c.base(RefreshCookieName)
	cookie.Value = value
	cookie.MaxAge = int(ttl.Seconds())
	return cookie
}

// Clear builds a deletion cookie for name with the same attributes it was
// set with.
func (c CookieCodec) Clear(name string) *http.Cookie {
	cookie := c.base(name)
	cookie.Value = ""
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0).UTC()
	return cookie
}

// Decode returns the named cookie value. A missing or empty cookie is not an
// error.
func Decode(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
