package swagger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func TestSwaggerHandler(t *testing.T) {
	convey.Convey("Given a swagger handler", t, func() {
		r := chi.NewRouter()

		convey.Convey("When registering the swagger handler", func() {
			Register(r)

			convey.Convey("Then it should handle /openapi.yaml route", func() {
				req := httptest.NewRequest("GET", "/openapi.yaml", http.NoBody)
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "application/yaml; charset=utf-8")
				convey.So(w.Body.Len(), convey.ShouldBeGreaterThan, 0)
			})

			convey.Convey("And it should handle /api-docs route", func() {
				req := httptest.NewRequest("GET", "/api-docs", http.NoBody)
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)

				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldEqual, "text/html; charset=utf-8")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "redoc-container")
			})
		})
	})
}

func TestOpenAPIDocument(t *testing.T) {
	convey.Convey("Given the embedded OpenAPI document", t, func() {
		var doc struct {
			OpenAPI string         `yaml:"openapi"`
			Paths   map[string]any `yaml:"paths"`
		}

		convey.Convey("Then it parses and lists the score routes", func() {
			convey.So(yaml.Unmarshal(OpenAPI, &doc), convey.ShouldBeNil)
			convey.So(doc.OpenAPI, convey.ShouldStartWith, "3.")
			convey.So(doc.Paths, convey.ShouldContainKey, "/scores")
			convey.So(doc.Paths, convey.ShouldContainKey, "/competitions/{competitionID}/scores")
			convey.So(doc.Paths, convey.ShouldContainKey, "/competitions/{competitionID}/events")
		})
	})
}

func TestSwaggerHandlerWithNilRouter(t *testing.T) {
	convey.Convey("Given a nil router", t, func() {
		convey.Convey("When registering the swagger handler", func() {
			convey.Convey("Then it should panic", func() {
				convey.So(func() {
					Register(nil)
				}, convey.ShouldPanic)
			})
		})
	})
}
