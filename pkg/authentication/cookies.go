// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"net/http"
	"strings"
	"time"
)

type CookieConfig struct {
	Name   string
	Secure bool
	Domain string
}

// Cookies reads and writes the session cookie
type Cookies struct {
	cfg CookieConfig
}

func (c *Cookies) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    token,
		Path:     "/",
		Domain:   c.cfg.Domain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the session token from the cookie, falling back to a bearer
// token for non browser clients
func (c *Cookies) Token(r *http.Request) string {
	if cookie, err := r.Cookie(c.cfg.Name); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, _ := getBearerToken(r.Header)
	return token
}

func getBearerToken(headers http.Header) (string, bool) {
	bearer := headers.Get("Authorization")
	if bearer == "" {
		return "", false
	}

	// Only support "Bearer <token>" format (RFC 6750)
	if !strings.HasPrefix(bearer, "Bearer ") {
		return "", false
	}

	return strings.TrimPrefix(bearer, "Bearer "), true
}

func NewCookies(cfg CookieConfig) *Cookies {
	if cfg.Name == "" {
		cfg.Name = "mc_session"
	}

	return &Cookies{cfg: cfg}
}
