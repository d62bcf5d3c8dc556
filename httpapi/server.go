// Package httpapi exposes the collaboration engine over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"collabflow/auth"
	"collabflow/collaboration"
	"collabflow/contract"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// CollaborationService is the engine surface the handlers call.
type CollaborationService interface {
	Create(ctx context.Context, p collaboration.CreateParams) (collaboration.Collaboration, error)
	Get(ctx context.Context, id string) (collaboration.Collaboration, error)
	Transition(ctx context.Context, p collaboration.TransitionParams) (collaboration.Collaboration, error)
	AvailableActions(ctx context.Context, id string, role auth.Role) ([]collaboration.Action, error)
}

// ContractService is the contract surface the handlers call.
type ContractService interface {
	Get(ctx context.Context, collaborationID string) (contract.Contract, error)
	Sign(ctx context.Context, collaborationID string, party contract.Party) (contract.Contract, error)
	HandleSignatureWebhook(ctx context.Context, ev contract.SignatureEvent) error
}

// TokenVerifier resolves bearer tokens to caller identities.
type TokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

type Server struct {
	collaborationService CollaborationService
	contractService      ContractService
	verifier             TokenVerifier
	webhookSecret        string
}

func NewServer(collaborations CollaborationService, contracts ContractService, verifier TokenVerifier, webhookSecret string) *Server {
	return &Server{
		collaborationService: collaborations,
		contractService:      contracts,
		verifier:             verifier,
		webhookSecret:        webhookSecret,
	}
}

// Routes builds the router without tracing middleware.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/webhooks/esign", s.handleSignatureWebhook)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireAuth)
		api.Post("/collaborations", s.handleCreateCollaboration)
		api.Route("/collaborations/{collaborationID}", func(c chi.Router) {
			c.Use(s.requireParty)
			c.Get("/", s.handleGetCollaboration)
			c.Get("/actions", s.handleAvailableActions)
			c.Post("/transitions", s.handleTransition)
			c.Get("/contract", s.handleGetContract)
			c.Post("/contract/sign", s.handleSignContract)
		})
	})
	return r
}

// Handler wraps Routes with OpenTelemetry HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Routes(), "collabflow.http")
}
