// Package spec serves the OpenAPI document for the funds movement API.
package spec

import (
	_ "embed"
	"net/http"
	"strconv"
)

//go:embed openapi.yaml
var openapiDoc []byte

// Document returns a copy of the embedded OpenAPI document.
func Document() []byte {
	return append([]byte(nil), openapiDoc...)
}

// OpenAPIHandler serves the embedded OpenAPI document to the Swagger UI and
// other tooling.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.Header().Set("Content-Length", strconv.Itoa(len(openapiDoc)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(openapiDoc)
	}
}
