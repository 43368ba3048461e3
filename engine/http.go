package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/kit"
)

// maxScanBody bounds the HTML accepted by the scan endpoint.
const maxScanBody = 4 << 20

// RegisterHTTP mounts the diagnostics API. store may be nil when
// settings persistence is disabled; the settings endpoints then 404.
func (e *Engine) RegisterHTTP(r chi.Router, store *SettingsStore) {
	// Tag every request so logs downstream carry the surface and the
	// chi request ID.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := kit.WithTransport(req.Context(), "http")
			if id := middleware.GetReqID(req.Context()); id != "" {
				ctx = kit.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.CacheStats(r.Context()))
	})

	r.Post("/api/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := e.ClearCache(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	})

	r.Post("/api/score", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		key, sc := e.ScoreText(r.Context(), req.Text)
		writeJSON(w, http.StatusOK, map[string]any{
			"key":       key,
			"score":     sc,
			"flagged":   sc >= e.Threshold(),
			"threshold": e.Threshold(),
		})
	})

	r.Post("/api/scan", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HTML string `json:"html"`
			URL  string `json:"url"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.HTML) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("html is required"))
			return
		}
		doc, err := dom.Parse(strings.NewReader(req.HTML), req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, e.ScanDocument(r.Context(), doc))
	})

	if store == nil {
		return
	}

	r.Get("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.Load(r.Context()))
	})

	r.Put("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		var s Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if s.Threshold < 1 || s.Threshold > 10 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("threshold must be in [1,10]"))
			return
		}
		if s.MinTextLength <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("min_text_length must be positive"))
			return
		}
		if err := store.Save(r.Context(), s); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		// Apply in-process immediately; the watcher covers other
		// connections.
		e.ApplySettings(s)
		writeJSON(w, http.StatusOK, s)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
