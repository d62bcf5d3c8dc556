package httpapi

import (
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/contract"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxWebhookBody = 1 << 20

type collaborationResponse struct {
	ID               string            `json:"id"`
	CampaignID       string            `json:"campaignId"`
	BrandID          string            `json:"brandId"`
	InfluencerID     string            `json:"influencerId"`
	AgreedAmount     string            `json:"agreedAmount"`
	PlatformFee      string            `json:"platformFee"`
	InfluencerPayout string            `json:"influencerPayout"`
	StartDate        *string           `json:"startDate,omitempty"`
	EndDate          *string           `json:"endDate,omitempty"`
	ContentDueDate   *string           `json:"contentDueDate,omitempty"`
	Status           string            `json:"status"`
	Version          int64             `json:"version"`
	CompletedAt      *string           `json:"completedAt,omitempty"`
	CancelledAt      *string           `json:"cancelledAt,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt"`
	History          []historyResponse `json:"history,omitempty"`
}

type historyResponse struct {
	Seq        int64                 `json:"seq"`
	FromStatus *string               `json:"fromStatus,omitempty"`
	ToStatus   string                `json:"toStatus"`
	Action     string                `json:"action,omitempty"`
	ChangedBy  string                `json:"changedBy"`
	Reason     string                `json:"reason,omitempty"`
	Details    collaboration.Details `json:"details"`
	CreatedAt  string                `json:"createdAt"`
}

type contractResponse struct {
	CollaborationID    string  `json:"collaborationId"`
	DocumentRef        string  `json:"documentRef"`
	BrandSignedAt      *string `json:"brandSignedAt,omitempty"`
	InfluencerSignedAt *string `json:"influencerSignedAt,omitempty"`
	FullySigned        bool    `json:"fullySigned"`
	IssuedAt           string  `json:"issuedAt"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toCollaborationResponse(c collaboration.Collaboration) collaborationResponse {
	resp := collaborationResponse{
		ID:               c.ID,
		CampaignID:       c.CampaignID,
		BrandID:          c.BrandID,
		InfluencerID:     c.InfluencerID,
		AgreedAmount:     c.AgreedAmount.StringFixed(2),
		PlatformFee:      c.PlatformFee.StringFixed(2),
		InfluencerPayout: c.InfluencerPayout.StringFixed(2),
		StartDate:        formatTimePtr(c.StartDate),
		EndDate:          formatTimePtr(c.EndDate),
		ContentDueDate:   formatTimePtr(c.ContentDueDate),
		Status:           string(c.Status),
		Version:          c.Version,
		CompletedAt:      formatTimePtr(c.CompletedAt),
		CancelledAt:      formatTimePtr(c.CancelledAt),
		CreatedAt:        formatTime(c.CreatedAt),
		UpdatedAt:        formatTime(c.UpdatedAt),
	}
	for _, e := range c.History {
		h := historyResponse{
			Seq:       e.Seq,
			ToStatus:  string(e.ToStatus),
			Action:    string(e.Action),
			ChangedBy: e.ChangedBy,
			Reason:    e.Reason,
			Details:   e.Details,
			CreatedAt: formatTime(e.CreatedAt),
		}
		if e.FromStatus != nil {
			from := string(*e.FromStatus)
			h.FromStatus = &from
		}
		resp.History = append(resp.History, h)
	}
	return resp
}

func toContractResponse(c contract.Contract) contractResponse {
	return contractResponse{
		CollaborationID:    c.CollaborationID,
		DocumentRef:        c.DocumentRef,
		BrandSignedAt:      formatTimePtr(c.BrandSignedAt),
		InfluencerSignedAt: formatTimePtr(c.InfluencerSignedAt),
		FullySigned:        c.IsFullySigned(),
		IssuedAt:           formatTime(c.IssuedAt),
	}
}

type createCollaborationRequest struct {
	CampaignID     string          `json:"campaignId"`
	BrandID        string          `json:"brandId"`
	InfluencerID   string          `json:"influencerId"`
	Amount         decimal.Decimal `json:"amount"`
	StartDate      *time.Time      `json:"startDate"`
	EndDate        *time.Time      `json:"endDate"`
	ContentDueDate *time.Time      `json:"contentDueDate"`
	Message        string          `json:"message"`
}

func (s *Server) handleCreateCollaboration(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	var req createCollaborationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	switch identity.Role {
	case auth.RoleBrand:
		if req.BrandID != "" && req.BrandID != identity.UserID {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "brands propose on their own behalf")
			return
		}
		req.BrandID = identity.UserID
	case auth.RoleAdmin:
	default:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only brands can send proposals")
		return
	}

	c, err := s.collaborationService.Create(r.Context(), collaboration.CreateParams{
		CampaignID:     req.CampaignID,
		BrandID:        req.BrandID,
		InfluencerID:   req.InfluencerID,
		Amount:         req.Amount,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		ContentDueDate: req.ContentDueDate,
		Message:        req.Message,
		CreatedBy:      identity.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollaborationResponse(c))
}

func (s *Server) handleGetCollaboration(w http.ResponseWriter, r *http.Request) {
	c, ok := collaborationFrom(r.Context())
	if !ok {
		var err error
		if c, err = s.collaborationService.Get(r.Context(), chi.URLParam(r, "collaborationID")); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleAvailableActions(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	actions, err := s.collaborationService.AvailableActions(r.Context(), chi.URLParam(r, "collaborationID"), identity.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]string, 0, len(actions))
	for _, a := range actions {
		items = append(items, string(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type transitionRequest struct {
	Action  string                `json:"action"`
	Reason  string                `json:"reason"`
	Details collaboration.Details `json:"details"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	var req transitionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	action, err := collaboration.ParseAction(req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	c, err := s.collaborationService.Transition(r.Context(), collaboration.TransitionParams{
		CollaborationID: chi.URLParam(r, "collaborationID"),
		ActorID:         identity.UserID,
		Role:            identity.Role,
		Action:          action,
		Reason:          strings.TrimSpace(req.Reason),
		Details:         req.Details,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.contractService.Get(r.Context(), chi.URLParam(r, "collaborationID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(c))
}

func (s *Server) handleSignContract(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	var party contract.Party
	switch identity.Role {
	case auth.RoleBrand:
		party = contract.PartyBrand
	case auth.RoleInfluencer:
		party = contract.PartyInfluencer
	default:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only a party to the contract can sign it")
		return
	}
	c, err := s.contractService.Sign(r.Context(), chi.URLParam(r, "collaborationID"), party)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractResponse(c))
}

func (s *Server) handleSignatureWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "unreadable body")
		return
	}
	valid, err := contract.VerifySignature(r.Header, body, s.webhookSecret)
	if err != nil {
		log.Printf("[httpapi][webhook] verify signature: %v", err)
		writeError(w, http.StatusServiceUnavailable, "WEBHOOK_DISABLED", "webhook secret not configured")
		return
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature mismatch")
		return
	}
	ev, err := contract.ParseSignatureEvent(r.Header, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.contractService.HandleSignatureWebhook(r.Context(), ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
