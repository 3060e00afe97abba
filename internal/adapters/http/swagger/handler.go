// Package swagger serves the OpenAPI description of the coordinator's
// operator API together with a ReDoc page for browsing it.
package swagger

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/okian/netvr/pkg/logger"
)

// Register attaches the API docs routes to mux.
//
//	GET /api-docs      -> ReDoc HTML titled from the document
//	GET /openapi.yaml  -> embedded OpenAPI document
func Register(ctx context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	title := "netvr coordinator API"
	if info, err := Describe(); err != nil {
		logger.Get().Named("swagger").Warn(ctx, "embedded openapi.yaml is unreadable", logger.Error(err))
	} else if info.Title != "" {
		title = fmt.Sprintf("%s %s", info.Title, info.Version)
	}
	page := fmt.Sprintf(indexHTML, html.EscapeString(title))

	mux.HandleFunc("/api-docs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})

	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>%s</title>
    <style>body{margin:0;padding:0}</style>
  </head>
  <body>
    <redoc id="redoc-container" spec-url="/openapi.yaml"></redoc>
    <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
  </body>
</html>`
