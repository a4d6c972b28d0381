// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// StripTrailingSlash canonicalises paths with a trailing slash. Safe methods
// are redirected; other methods are rewritten in place so request bodies
// survive.
func StripTrailingSlash() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			path := r.URL.Path
			if path == "/" || !strings.HasSuffix(path, "/") {
				return next(c)
			}

			newPath := strings.TrimRight(path, "/")
			if newPath == "" {
				newPath = "/"
			}

			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				newURL := newPath
				if r.URL.RawQuery != "" {
					newURL += "?" + r.URL.RawQuery
				}
				return c.Redirect(http.StatusMovedPermanently, newURL)
			}

			r.URL.Path = newPath
			r.URL.RawPath = ""
			return next(c)
		}
	}
}
