// CLAUDE:SUMMARY HTTP API of domselect on a chi router: analyze, outcomes, profiles, patterns, snapshots, stats, health.
package domselect

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/selres/shield"
)

// Handler returns the HTTP API behind the default shield middleware stack.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(e.logger) {
		r.Use(mw)
	}
	e.Routes(r)
	return r
}

// Routes mounts the API on r.
//
//	POST   /analyze
//	POST   /outcomes
//	GET    /profiles
//	GET    /profiles/{domain}          ?stored=true reads the flushed copy
//	DELETE /profiles/{domain}
//	PUT    /profiles/{domain}/patterns
//	POST   /snapshots
//	GET    /snapshots/{domain}
//	DELETE /domains/{domain}           purges profile and snapshots
//	GET    /stats
//	GET    /health
func (e *Engine) Routes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/analyze", e.handleAnalyze)
	r.Post("/outcomes", e.handleOutcome)
	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", e.handleListProfiles)
		r.Get("/{domain}", e.handleGetProfile)
		r.Delete("/{domain}", e.handleResetProfile)
		r.Put("/{domain}/patterns", e.handleUpsertPattern)
	})
	r.Post("/snapshots", e.handleRecordSnapshot)
	r.Get("/snapshots/{domain}", e.handleListSnapshots)
	r.Delete("/domains/{domain}", e.handlePurgeDomain)
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, e.Stats())
	})
}

func (e *Engine) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := e.serveAnalyze(r.Context(), &req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *Engine) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, e.RecordOutcome(ev))
}

func (e *Engine) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.Profiles())
}

func (e *Engine) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if r.URL.Query().Get("stored") != "true" {
		writeJSON(w, http.StatusOK, e.GetProfile(domain))
		return
	}
	p, ok, err := e.StoredProfile(r.Context(), domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no stored profile for %s", e.profiles.Domain(domain)))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (e *Engine) handleResetProfile(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	e.ResetProfile(domain)
	writeJSON(w, http.StatusOK, map[string]string{"domain": e.profiles.Domain(domain), "status": "reset"})
}

func (e *Engine) handleUpsertPattern(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	domain := chi.URLParam(r, "domain")
	if err := e.UpsertPattern(domain, req.Pattern, req.Tier); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e.GetProfile(domain))
}

func (e *Engine) handleRecordSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := e.serveSnapshot(r.Context(), &req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	code := http.StatusOK
	if res.Added {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}

func (e *Engine) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := e.Snapshots(r.Context(), chi.URLParam(r, "domain"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (e *Engine) handlePurgeDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := e.PurgeDomain(r.Context(), domain); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"domain": e.profiles.Domain(domain), "status": "purged"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return false
		}
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	var re *ResolutionError
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsafeScheme), errors.Is(err, ErrPrivateAddress):
		return http.StatusBadRequest
	case errors.As(err, &re):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBrowserDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
