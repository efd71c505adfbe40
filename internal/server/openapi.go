package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"path"
	"reflect"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// publicOperations need no credentials.
var publicOperations = map[string]bool{"health": true}

// mountOpenAPI serves the decorated OpenAPI document under the base path and
// a Redoc page at /docs. The document is built on first request, after every
// operation has been registered.
func mountOpenAPI(r chi.Router, api huma.API, basePath string) {
	docPath := path.Join(basePath, "openapi.json")
	var once sync.Once
	var doc []byte
	r.Get(docPath, func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	page := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		docsPage.Execute(w, map[string]string{"Title": api.OpenAPI().Info.Title, "DocURL": docPath})
	}
	r.Get("/docs", page)
	r.Get(path.Join(basePath, "docs"), page)
}

// decorateOpenAPI documents the error envelope as every operation's default
// response and declares the two credential schemes.
func decorateOpenAPI(oas *huma.OpenAPI) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["playerKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{{"bearerAuth": {}}, {"playerKeyAuth": {}}}
	oas.Security = security

	var envelope *huma.Schema
	if oas.Components.Schemas != nil {
		envelope = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if publicOperations[op.OperationID] {
				op.Security = []map[string][]string{}
			} else {
				op.Security = security
			}
			if envelope == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error envelope",
				Content:     map[string]*huma.MediaType{"application/json": {Schema: envelope}},
			}
		}
	}
}

var docsPage = template.Must(template.New("docs").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<redoc spec-url="{{.DocURL}}"></redoc>
<script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>`))
