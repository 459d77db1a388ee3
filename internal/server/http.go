package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/module"
	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/service"
)

const httpLogPrefix = "server:http"

// maxInvokeBody caps POST /services/{id}/invoke/{method} bodies.
const maxInvokeBody = 1 << 20

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.host.Metrics().InstrumentHandler)

	r.Get("/", s.handleHome())
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.host.Metrics().Handler())
	r.Get("/modules", s.handleModules)

	r.Route("/services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Get("/{id}", s.handleDescribeService)
		r.Get("/{id}/openapi.json", s.handleOpenAPI)
		r.Get("/{id}/docs", s.handleDocs())
		r.Post("/{id}/invoke/{method}", s.handleInvoke)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	h := s.host.Registry().Health(ctx)
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Modules())
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Registry().Summaries())
}

// lookup resolves the {id} path parameter, which may be a manifest alias.
func (s *Server) lookup(r *http.Request) (service.Descriptor, bool) {
	id := s.host.Manifest().ResolveAlias(chi.URLParam(r, "id"))
	id, _, _ = strings.Cut(id, "@")
	return s.host.Registry().Resolve(id)
}

func (s *Server) handleDescribeService(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.lookup(r)
	if !ok {
		writeError(w, r, service.NotRegistered(chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, registry.Summarize(desc))
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.lookup(r)
	if !ok {
		writeError(w, r, service.NotRegistered(chi.URLParam(r, "id")))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, buildOpenAPISpec(desc))
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInvokeBody))
	if err != nil {
		writeError(w, r, service.InvocationErrorf("failed to read request body: %v", err))
		return
	}

	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := &dispatcher.InvokeRequest{
		ID:      requestID,
		Type:    dispatcher.TypeInvoke,
		Service: chi.URLParam(r, "id"),
		Method:  chi.URLParam(r, "method"),
		Version: r.URL.Query().Get("version"),
		Ctx: &dispatcher.InvocationContext{
			RequestID: requestID,
			Caller:    r.RemoteAddr,
		},
	}
	if len(body) > 0 {
		req.Params = json.RawMessage(body)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	resp := s.host.Handle(ctx, req)
	status := http.StatusOK
	if !resp.Ok {
		status = statusForCode(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

// statusForCode maps an error code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case service.CodeNotRegistered, service.CodeMethodNotFound:
		return http.StatusNotFound
	case service.CodeVersionMismatch, service.CodeDuplicateRegistration:
		return http.StatusConflict
	case service.CodeInvocationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", httpLogPrefix, err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := service.AsServiceError(err)
	if !ok {
		se = service.Internal("request failed")
	}
	writeJSON(w, statusForCode(se.Code), &dispatcher.InvokeResponse{
		ID: middleware.GetReqID(r.Context()),
		Error: &dispatcher.ErrorDetail{
			Code:      se.Code,
			Message:   se.Message,
			Retryable: se.Retryable(),
		},
	})
}

// homePageTemplate is the HTML for the host home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Plugin Host</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>Plugin Host</h1>
  <p class="meta">Manifest {{.Manifest}}. Host health, modules and registered services.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Registered services: <span class="stat">{{.Health.Services}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Modules</h2>
    {{if not .Modules}}
    <p>No modules loaded.</p>
    {{else}}
    <table>
      <thead><tr><th>Module</th><th>Version</th><th>State</th><th>Services</th></tr></thead>
      <tbody>
        {{range .Modules}}
        <tr><td>{{.Name}}</td><td>{{.Version}}</td><td>{{.State}}</td><td>{{len .Services}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Services</h2>
    {{if not .Services.Services}}
    <p>No services registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Service</th><th>Version</th><th>Module</th><th>Methods</th></tr></thead>
      <tbody>
        {{range .Services.Services}}
        <tr>
          <td><a href="/services/{{.ID}}/docs">{{.ID}}</a></td>
          <td>{{.Version}}</td>
          <td>{{.Module}}</td>
          <td>{{range .Methods}}{{.Name}} {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Manifest string
	Health   *registry.HealthOutput
	Modules  []module.Status
	Services *registry.ListOutput
}

// handleHome returns an HTTP handler for the host home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Manifest: s.host.Manifest().Name(),
			Health:   s.host.Registry().Health(ctx),
			Modules:  s.host.Modules(),
			Services: s.host.Registry().Summaries(),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// swaggerUIPage is the HTML that embeds Swagger UI from CDN and loads the OpenAPI spec.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>API – {{.ID}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIBundle.SwaggerUIStandalonePreset
        ]
      });
    };
  </script>
</body>
</html>
`

func (s *Server) handleDocs() http.HandlerFunc {
	tmpl := template.Must(template.New("swagger").Parse(swaggerUIPage))
	return func(w http.ResponseWriter, r *http.Request) {
		desc, ok := s.lookup(r)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := map[string]string{
			"ID":      desc.ID,
			"SpecURL": "/services/" + url.PathEscape(desc.ID) + "/openapi.json",
		}
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - docs template execute: %v", httpLogPrefix, err))
		}
	}
}
