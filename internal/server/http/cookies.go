package http

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
)

// CookieConfig controls the session cookies. Both cookies are always
// HttpOnly and Secure.
type CookieConfig struct {
	Domain     string
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) cookie(name, value string, ttl time.Duration) *http.Cookie {
	sameSite := c.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: sameSite,
		MaxAge:   int(ttl / time.Second),
	}
}

func (c CookieConfig) setTokens(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, c.cookie(common.AccessTokenCookieName, pair.AccessToken, c.AccessTTL))
	http.SetCookie(w, c.cookie(common.RefreshTokenCookieName, pair.RefreshToken, c.RefreshTTL))
}

func (c CookieConfig) clearTokens(w http.ResponseWriter) {
	for _, name := range []string{common.AccessTokenCookieName, common.RefreshTokenCookieName} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}
