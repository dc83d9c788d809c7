package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/incident-simulator/internal/logging"
	"github.com/signalsfoundry/incident-simulator/internal/simulator"
	"github.com/signalsfoundry/incident-simulator/model"
)

// IncidentSource is the part of the simulator the HTTP surface reads from.
type IncidentSource interface {
	Incidents() []model.Incident
	Recent() []model.Incident
	Lookup(id string) (model.Incident, bool)
	Abort(id string) error
}

// MapSource renders the current map.
type MapSource interface {
	Snapshot() *geojson.FeatureCollection
}

type incidentList struct {
	Live   []model.Incident `json:"live"`
	Recent []model.Incident `json:"recent"`
}

// NewHTTPHandler builds the read-mostly HTTP surface:
//
//	GET    /metrics
//	GET    /map
//	GET    /incidents
//	GET    /incidents/{id}
//	DELETE /incidents/{id}   aborts the incident, like removing its marker
func NewHTTPHandler(incidents IncidentSource, maps MapSource, metrics http.Handler, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /map", func(w http.ResponseWriter, r *http.Request) {
		body, err := maps.Snapshot().MarshalJSON()
		if err != nil {
			requestLogger(r, log).Error(r.Context(), "encode map snapshot", logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(body)
	})

	mux.HandleFunc("GET /incidents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, log, http.StatusOK, incidentList{
			Live:   nonNil(incidents.Incidents()),
			Recent: nonNil(incidents.Recent()),
		})
	})

	mux.HandleFunc("GET /incidents/{id}", func(w http.ResponseWriter, r *http.Request) {
		inc, ok := incidents.Lookup(r.PathValue("id"))
		if !ok {
			http.Error(w, "incident not found", http.StatusNotFound)
			return
		}
		writeJSON(w, r, log, http.StatusOK, inc)
	})

	mux.HandleFunc("DELETE /incidents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := incidents.Abort(id); err != nil {
			if errors.Is(err, simulator.ErrIncidentNotFound) {
				http.Error(w, "incident not found", http.StatusNotFound)
				return
			}
			requestLogger(r, log).Error(r.Context(), "abort incident", logging.String("id", id), logging.Err(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		requestLogger(r, log).Info(r.Context(), "incident aborted via API", logging.String("id", id))
		w.WriteHeader(http.StatusNoContent)
	})

	return RequestIDMiddleware(log, TracingMiddleware(mux))
}

func writeJSON(w http.ResponseWriter, r *http.Request, log logging.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(r, log).Warn(r.Context(), "write response", logging.Err(err))
	}
}

func requestLogger(r *http.Request, fallback logging.Logger) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return fallback
}

func nonNil(in []model.Incident) []model.Incident {
	if in == nil {
		return []model.Incident{}
	}
	return in
}
