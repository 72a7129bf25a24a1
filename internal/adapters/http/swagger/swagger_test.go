package swagger_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/okian/arena/internal/adapters/http/swagger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSwaggerRoutes(t *testing.T) {
	Convey("Given an app with the swagger routes", t, func() {
		app := fiber.New()
		swagger.Register(app)

		Convey("When the OpenAPI document is requested", func() {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/openapi.yaml", http.NoBody), -1)
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(resp.Body)

			Convey("Then the embedded yaml is served", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(resp.Header.Get("Content-Type"), ShouldEqual, "application/yaml; charset=utf-8")
				So(string(body), ShouldContainSubstring, "openapi: 3.0.3")
				So(string(body), ShouldContainSubstring, "/games/{id}/complete:")
			})
		})

		Convey("When the docs page is requested", func() {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api-docs", http.NoBody), -1)
			So(err, ShouldBeNil)
			body, _ := io.ReadAll(resp.Body)

			Convey("Then it points ReDoc at the document", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(string(body), ShouldContainSubstring, `spec-url="/openapi.yaml"`)
			})
		})
	})

	Convey("Given no app", t, func() {
		So(func() { swagger.Register(nil) }, ShouldPanic)
	})
}
