package routing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/km-arc/go-container/framework/container"
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ── Container inspection ─────────────────────────────────────────────────────

// MountContainer registers read-only routes over c:
//
//	GET /services        every id Get accepts
//	GET /services/{id}   what id resolves to, without building it
//	GET /parameters      the resolved parameter bag
func (r *Router) MountContainer(c *container.Container) {
	r.Get("/services", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, envelope{"class": c.Class(), "data": c.IDs()})
	})

	r.Get("/services/{id}", func(w http.ResponseWriter, req *http.Request) {
		info, err := c.Describe(Param(req, "id"))
		var (
			notFound *container.NotFoundError
			removed  *container.RemovedServiceError
		)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, envelope{"data": info})
		case errors.As(err, &removed):
			writeJSON(w, http.StatusGone, envelope{"message": err.Error(), "reason": removed.Reason})
		case errors.As(err, &notFound):
			writeJSON(w, http.StatusNotFound, envelope{"message": err.Error(), "alternatives": notFound.Alternatives})
		default:
			writeJSON(w, http.StatusInternalServerError, envelope{"message": err.Error()})
		}
	})

	r.Get("/parameters", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, envelope{"data": c.Program().Parameters})
	})
}

// ── Metrics ──────────────────────────────────────────────────────────────────

// MountMetrics serves the Prometheus exposition of g at path.
func (r *Router) MountMetrics(path string, g prometheus.Gatherer) {
	r.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
