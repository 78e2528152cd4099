package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure endpoints that bypass token parsing,
// auditing and rate limiting.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper reports whether the matched route is a public infrastructure
// endpoint.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
