//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "localinfer/internal/httpapi/docs"
)

const swaggerDocURL = "/swagger/doc.json"

// MountSwagger serves the generated API docs and UI under /swagger/.
func MountSwagger(r chi.Router) bool {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(swaggerDocURL)))
	return true
}
