package swagger

import (
	"net/http"

	"github.com/go-chi/chi"
	httpSwagger "github.com/swaggo/http-swagger"
)

const documentPath = "/openapi.yml"

// Mount serves the embedded OpenAPI document and a Swagger UI reading it.
func Mount(r chi.Router, document []byte) {
	r.Get(documentPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(document)
	})
	r.Handle("/swagger/*", httpSwagger.Handler(httpSwagger.URL(documentPath)))
}
