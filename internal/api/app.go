package api

import (
	"html/template"
	"net/http"

	"github.com/geonexus/entitlements/internal/gate"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>GeoNexus {{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Body}}</p></body></html>`))

type page struct {
	Title string
	Body  string
}

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, p)
}

// appHandler serves the gated application surface. Subscribe and success
// pages sit under the same prefix and are left ungated by the middleware.
func appHandler(g *gate.Gate) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/app/subscribe", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, http.StatusOK, page{Title: "Subscribe", Body: "Choose a plan to continue."})
	})
	mux.HandleFunc("/app/success", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, http.StatusOK, page{Title: "Thank you", Body: "Your subscription is being activated."})
	})
	mux.HandleFunc("/app/", func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, http.StatusOK, page{Title: "Dashboard", Body: "Welcome back."})
	})

	return g.Middleware(gate.MiddlewareOptions{
		LandingURL:  "/",
		PurchaseURL: "/app/subscribe",
		Ungated:     []string{"/app/subscribe", "/app/success"},
	})(mux)
}
