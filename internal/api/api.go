// Package api exposes the operator control surface over HTTP: pause, resume
// and stop campaigns, plus read-only status. These are simple status writes
// the dispatcher observes on its next tick.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tgblast/internal/domain"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

type Config struct {
	Addr string
}

type Server struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
	srv   *http.Server
}

func New(cfg Config, store storage.Store, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8087"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, store: store, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", s.handleCreateCampaign)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleCampaign)
			r.Post("/pause", s.transition(domain.CampaignPaused))
			r.Post("/resume", s.transition(domain.CampaignRunning))
			r.Post("/stop", s.transition(domain.CampaignStopped))
		})
	})
	r.Get("/accounts", s.handleAccounts)
	r.Post("/accounts", s.handleCreateAccount)
	r.Post("/sources", s.handleCreateSource)
	r.Post("/templates", s.handleCreateTemplate)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.Campaign(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaignView(c))
}

// transition returns a handler applying an operator status write. Illegal
// transitions (e.g. resuming a completed campaign) come back as 409.
func (s *Server) transition(to domain.CampaignStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := s.store.Campaign(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign not found"})
			return
		}
		if err != nil {
			s.internalError(w, err)
			return
		}
		if err := c.SetStatus(to); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
			s.internalError(w, err)
			return
		}
		s.log.Info("campaign status set by operator",
			logx.String("campaign", c.ID), logx.String("status", string(to)))
		writeJSON(w, http.StatusOK, campaignView(c))
	}
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	// Every status, owner-agnostic: this is an operator tool.
	var out []map[string]any
	for _, st := range []domain.AccountStatus{
		domain.AccountPending, domain.AccountCodeSent, domain.AccountActive,
		domain.AccountFloodWait, domain.AccountBlocked, domain.AccountError,
	} {
		accounts, err := s.store.AccountsByStatus(r.Context(), st, 0)
		if err != nil {
			s.internalError(w, err)
			return
		}
		for _, a := range accounts {
			out = append(out, map[string]any{
				"id":          a.ID,
				"name":        a.Name,
				"status":      a.Status,
				"daily_sent":  a.DailySent,
				"daily_limit": a.DailyLimit,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Warn("admin api error", logx.Err(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func campaignView(c *domain.Campaign) map[string]any {
	return map[string]any{
		"id":           c.ID,
		"name":         c.Name,
		"status":       c.Status,
		"sent_count":   c.SentCount,
		"failed_count": c.FailedCount,
		"total_count":  c.TotalCount,
		"fail_reason":  c.FailReason,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
