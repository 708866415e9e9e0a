package handler

import (
	"net/http"
	"time"

	"github.com/go-otp-auth/internal/config"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

// setAuthCookie writes a protected, HTTP-only token cookie scoped to the API
// path. Secure + SameSite=None outside development so credentialed
// cross-origin requests work over TLS.
func setAuthCookie(w http.ResponseWriter, cfg *config.Config, name, value string, maxAge time.Duration) {
	secure := cfg.AppEnv != "development"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/api",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
