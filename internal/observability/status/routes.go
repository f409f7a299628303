package status

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"eventbot/internal/reminder"
	rtsup "eventbot/internal/runtime/supervisor"
)

// Reporter exposes the reminder engine state.
type Reporter interface {
	Snapshot() reminder.Snapshot
}

// LedgerView exposes the sent reminder keys.
type LedgerView interface {
	Len() int
	Keys() []string
}

// Sources feed the endpoints. Nil members render as absent.
type Sources struct {
	Reminders   Reporter
	Ledger      LedgerView
	Supervisors *rtsup.Registry
	Version     string
}

// Handler builds the router for cur. It is exported so tests and embedders
// can mount it without a listener.
func (s *Service) Handler(cur Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cur.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: cur.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization"},
		})
		r.Use(c.Handler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cur.Token))
		r.Get("/status", s.handleStatus)
		r.Get("/reminders/ledger", s.handleLedger)
		if cur.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type statusBody struct {
	Version     string                    `json:"version,omitempty"`
	Uptime      string                    `json:"uptime"`
	Now         time.Time                 `json:"now"`
	Reminders   *reminder.Snapshot        `json:"reminders,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{
		Version: s.src.Version,
		Uptime:  time.Since(s.boot).Truncate(time.Second).String(),
		Now:     time.Now().UTC(),
	}
	if s.src.Reminders != nil {
		snap := s.src.Reminders.Snapshot()
		body.Reminders = &snap
	}
	if s.src.Supervisors != nil {
		body.Supervisors = s.src.Supervisors.Snapshots()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleLedger(w http.ResponseWriter, _ *http.Request) {
	if s.src.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "ledger unavailable"})
		return
	}
	keys := s.src.Ledger.Keys()
	writeJSON(w, http.StatusOK, map[string]any{
		"size": len(keys),
		"keys": keys,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) &&
				strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
