package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupStaticRoutes serves the frontend build output. The SPA root is
// served at /, its assets under /static.
func SetupStaticRoutes(r *gin.Engine, staticDir string) {
	r.Static("/static", staticDir)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(staticDir, "index.html"))
	})
}

// SPAFallback resolves unmatched paths the way a single-page app expects:
// unknown API paths stay 404, asset-looking paths are tried against the
// static dir, everything else gets index.html so client-side routing can
// take over.
func SPAFallback(staticDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := strings.TrimPrefix(c.Request.URL.Path, "/")

		if strings.HasPrefix(path, "api/") {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
			return
		}

		// Asset requests carry an extension. The frontend is sometimes
		// mounted under a /research prefix; strip it before resolving.
		if strings.Contains(path, ".") && !strings.Contains(path, "..") {
			path = strings.TrimPrefix(path, "research/")
			full := filepath.Join(staticDir, filepath.FromSlash(path))
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				c.File(full)
				return
			}
		}

		c.File(filepath.Join(staticDir, "index.html"))
	}
}
