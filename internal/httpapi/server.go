package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/delayedmailer/internal/domain"
	"github.com/hamed0406/delayedmailer/internal/handler"
	apimw "github.com/hamed0406/delayedmailer/internal/httpapi/middleware"
	"github.com/hamed0406/delayedmailer/internal/repo"
)

// maxEventBytes bounds a single event body.
const maxEventBytes = 1 << 20

type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) (handler.Result, error)
}

type Server struct {
	Logger  *zap.Logger
	Handler EventHandler
	Ledger  repo.Ledger
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

func NewServer(l *zap.Logger, h EventHandler, ledger repo.Ledger) *Server {
	return &Server{Logger: l, Handler: h, Ledger: ledger}
}

// Router wires the public event intake and the admin ledger endpoints.
// An empty origins list allows any origin.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(pubRPM, pubBurst, s.TrustedProxies))
		r.Use(apimw.RequireAny(keys))
		r.Post("/api/events", s.handleEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(admRPM, admBurst, s.TrustedProxies))
		r.Use(apimw.RequireAdmin(keys))
		r.Get("/api/ledger/{client}/{check}", s.handleLedgerGet)
		r.Delete("/api/ledger/{client}/{check}", s.handleLedgerClear)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Ledger.Ping(r.Context()); err != nil {
		s.Logger.Warn("health_ledger_down", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := domain.Decode(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "event too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Handler.Handle(r.Context(), ev)
	if err != nil {
		code, msg := eventErrorStatus(err)
		if code >= http.StatusInternalServerError {
			s.Logger.Error("event_failed", zap.String("identity", string(ev.Identity())), zap.Int("status", code), zap.Error(err))
		}
		writeError(w, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func eventErrorStatus(err error) (int, string) {
	var mf *domain.MissingFieldError
	switch {
	case errors.As(err, &mf):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, handler.ErrNoRecipients):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, handler.ErrLedger):
		return http.StatusBadGateway, "ledger error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ledgerView lists the live markers of one identity.
type ledgerView struct {
	Identity    domain.Identity `json:"identity"`
	Occurred    bool            `json:"occurred"`
	Notified    bool            `json:"notified"`
	Occurrences []string        `json:"occurrences"`
}

func identityParam(r *http.Request) domain.Identity {
	return domain.Identity(chi.URLParam(r, "client") + "/" + chi.URLParam(r, "check"))
}

// identityKeys returns the live keys that belong to id and nothing else.
func (s *Server) identityKeys(ctx context.Context, id domain.Identity) (ledgerView, []string, error) {
	v := ledgerView{Identity: id, Occurrences: []string{}}
	keys, err := s.Ledger.Keys(ctx, "dm_"+string(id))
	if err != nil {
		return v, nil, err
	}
	var own []string
	for _, k := range keys {
		switch {
		case k == repo.OccurredKey(id):
			v.Occurred = true
		case k == repo.NotifiedKey(id):
			v.Notified = true
		case repo.IsOccurrenceKey(id, k):
			v.Occurrences = append(v.Occurrences, k)
		default:
			continue
		}
		own = append(own, k)
	}
	return v, own, nil
}

func (s *Server) handleLedgerGet(w http.ResponseWriter, r *http.Request) {
	v, _, err := s.identityKeys(r.Context(), identityParam(r))
	if err != nil {
		s.Logger.Error("ledger_list_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "ledger error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleLedgerClear forgets every marker of an identity so the next alert
// starts a new episode.
func (s *Server) handleLedgerClear(w http.ResponseWriter, r *http.Request) {
	id := identityParam(r)
	_, keys, err := s.identityKeys(r.Context(), id)
	if err != nil {
		s.Logger.Error("ledger_list_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "ledger error")
		return
	}
	removed := 0
	for _, k := range keys {
		ok, err := s.Ledger.Delete(r.Context(), k)
		if err != nil {
			s.Logger.Error("ledger_delete_error", zap.String("key", k), zap.Error(err))
			writeError(w, http.StatusBadGateway, "ledger error")
			return
		}
		if ok {
			removed++
		}
	}
	s.Logger.Info("ledger_cleared", zap.String("identity", string(id)), zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "removed": removed})
}
