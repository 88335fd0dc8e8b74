package auth

import (
	"net/http"
	"time"

	"github.com/authgate/authgate/internal/identity"
)

// Cookie names mirror the provider's conventional names so existing browser
// sessions keep working.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

// CookieCodec writes and reads the access/refresh session cookie pair. The
// two cookies carry distinct lifetimes and are always constructed
// independently so option changes on one can never bleed into the other.
type CookieCodec struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCookieCodec constructs a codec. Secure should be true behind HTTPS.
func NewCookieCodec(secure bool, accessTTL, refreshTTL time.Duration) *CookieCodec {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &CookieCodec{
		secure:     secure,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// SetSession writes both cookies for an established session.
func (c *CookieCodec) SetSession(w http.ResponseWriter, sess *identity.Session) {
	http.SetCookie(w, c.accessCookie(sess.AccessToken))
	http.SetCookie(w, c.refreshCookie(sess.RefreshToken))
}

// Clear expires both cookies atomically.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	access := c.accessCookie("")
	access.Expires = time.Unix(0, 0)
	access.MaxAge = -1
	http.SetCookie(w, access)

	refresh := c.refreshCookie("")
	refresh.Expires = time.Unix(0, 0)
	refresh.MaxAge = -1
	http.SetCookie(w, refresh)
}

// AccessToken reads the access-token cookie. A missing cookie is not an
// error; it means the request is unauthenticated.
func (c *CookieCodec) AccessToken(r *http.Request) (string, bool) {
	return readCookie(r, AccessTokenCookie)
}

// RefreshToken reads the refresh-token cookie.
func (c *CookieCodec) RefreshToken(r *http.Request) (string, bool) {
	return readCookie(r, RefreshTokenCookie)
}

func (c *CookieCodec) accessCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c *CookieCodec) refreshCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func readCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
