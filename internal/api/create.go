package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tgblast/internal/domain"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

type createTemplateReq struct {
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
	Body    string `json:"body"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateReq
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		badRequest(w, "body is required")
		return
	}
	t := &domain.Template{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Body:      req.Body,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateTemplate(r.Context(), t); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": t.ID})
}

type createSourceReq struct {
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
	Ref     string `json:"ref"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceReq
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Ref) == "" {
		badRequest(w, "ref is required")
		return
	}
	src := &domain.RecipientSource{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Ref:       req.Ref,
		Status:    domain.SourcePending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateSource(r.Context(), src); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": src.ID})
}

type createAccountReq struct {
	OwnerID    int64  `json:"owner_id"`
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	Token      string `json:"token"`
	DailyLimit int    `json:"daily_limit"`
	FolderID   *int64 `json:"folder_id"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountReq
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Phone) == "" && strings.TrimSpace(req.Token) == "" {
		badRequest(w, "phone or token is required")
		return
	}
	a := &domain.Account{
		OwnerID:    req.OwnerID,
		Phone:      req.Phone,
		Name:       req.Name,
		Token:      req.Token,
		DailyLimit: req.DailyLimit,
		FolderID:   req.FolderID,
		Status:     domain.AccountPending,
	}
	if err := s.store.CreateAccount(r.Context(), a); err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("account enrolled", logx.Int64("account", a.ID))
	writeJSON(w, http.StatusCreated, map[string]any{"id": a.ID})
}

type createCampaignReq struct {
	OwnerID    int64   `json:"owner_id"`
	Name       string  `json:"name"`
	SourceID   string  `json:"source_id"`
	TemplateID string  `json:"template_id"`
	AccountIDs []int64 `json:"account_ids"`
	// FolderID, when set, resolves the account pool from a folder instead of
	// an explicit list.
	FolderID *int64 `json:"folder_id"`

	DelayMin    string `json:"delay_min,omitempty"` // Go duration, default "30s"
	DelayMax    string `json:"delay_max,omitempty"` // Go duration, default "90s"
	AutoSwitch  *bool  `json:"auto_switch,omitempty"`
	ReportEvery int    `json:"report_every,omitempty"`
	StartAt     string `json:"start_at,omitempty"` // RFC 3339
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignReq
	if !decodeBody(w, r, &req) {
		return
	}

	src, err := s.store.Source(r.Context(), req.SourceID)
	if errors.Is(err, storage.ErrNotFound) {
		badRequest(w, "source not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	if src.Status != domain.SourceReady {
		badRequest(w, "source is not ready")
		return
	}
	if _, err := s.store.Template(r.Context(), req.TemplateID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			badRequest(w, "template not found")
			return
		}
		s.internalError(w, err)
		return
	}

	// The total is fixed now, from what is still unsent: a source already
	// partially consumed by an earlier campaign must not inflate the
	// denominator of this one.
	remaining, err := s.store.CountUnsent(r.Context(), src.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}

	accountIDs := req.AccountIDs
	if req.FolderID != nil {
		// Resolve the folder once at creation; later folder edits do not
		// retroactively change the campaign pool.
		owned, err := s.store.AccountsByOwner(r.Context(), req.OwnerID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		for _, a := range owned {
			if a.FolderID != nil && *a.FolderID == *req.FolderID {
				accountIDs = append(accountIDs, a.ID)
			}
		}
	}
	if len(accountIDs) == 0 {
		badRequest(w, "campaign needs at least one account")
		return
	}

	delayMin, err := parseDelay(req.DelayMin, 30*time.Second)
	if err != nil {
		badRequest(w, "delay_min: "+err.Error())
		return
	}
	delayMax, err := parseDelay(req.DelayMax, 90*time.Second)
	if err != nil {
		badRequest(w, "delay_max: "+err.Error())
		return
	}
	if delayMax < delayMin {
		badRequest(w, "delay_max must be >= delay_min")
		return
	}

	var startAt *time.Time
	if strings.TrimSpace(req.StartAt) != "" {
		t, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			badRequest(w, "start_at: "+err.Error())
			return
		}
		startAt = &t
	}

	autoSwitch := true
	if req.AutoSwitch != nil {
		autoSwitch = *req.AutoSwitch
	}
	reportEvery := req.ReportEvery
	if reportEvery <= 0 {
		reportEvery = 25
	}

	c := &domain.Campaign{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		SourceID:   src.ID,
		TemplateID: req.TemplateID,
		AccountIDs: accountIDs,
		Status:     domain.CampaignPending,
		TotalCount: remaining,
		Settings: domain.CampaignSettings{
			DelayMin:    delayMin,
			DelayMax:    delayMax,
			AutoSwitch:  autoSwitch,
			ReportEvery: reportEvery,
		},
		StartAt: startAt,
	}
	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("campaign created",
		logx.String("campaign", c.ID), logx.Int("recipients", c.TotalCount),
		logx.Int("accounts", len(accountIDs)))
	writeJSON(w, http.StatusCreated, campaignView(c))
}

func parseDelay(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must be >= 0")
	}
	return d, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
