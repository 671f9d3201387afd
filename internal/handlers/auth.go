// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// AuthMiddleware requires "Authorization: Bearer <secret>" on every path
// not in skipPaths. An empty secret disables the check.
func AuthMiddleware(secret string, skipPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				slog.Warn("missing bearer token", "path", r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing authentication header"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				slog.Warn("invalid control secret", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid control secret"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
