package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/api"
	"subscription-fulfillment/internal/usecase"
)

// Settler resolves a sandbox charge; payment.SandboxGateway implements it.
type Settler interface {
	Settle(ref string, st adapter.GatewayStatus) error
}

type Server struct {
	admin    usecase.AdminUseCase
	auth     *AuthManager
	settler  Settler
	webhooks api.WebhookHandler
	log      *zerolog.Logger
}

func NewServer(admin usecase.AdminUseCase, auth *AuthManager, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "admin_api").Logger()
	return &Server{admin: admin, auth: auth, log: &l}
}

// WithSandbox exposes POST /admin/sandbox/charges/{ref}; after settling, the
// change is fed through the webhook path like a real notification.
func (s *Server) WithSandbox(settler Settler, webhooks api.WebhookHandler) *Server {
	s.settler = settler
	s.webhooks = webhooks
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(api.TraceID(), api.Recover(s.log), api.RequestLog(s.log), countCommands, api.Timeout(30*time.Second))

	r.Post("/admin/login", s.handleLogin)
	r.Post("/admin/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Require)

		r.Get("/admin/sales", s.handleSalesState)
		r.Post("/admin/sales/toggle", s.handleToggleSales)

		r.Get("/admin/inventory", s.handleInventoryCounts)
		r.Post("/admin/inventory/{tier}", s.handleAddCredential)
		r.Post("/admin/inventory/{tier}/bulk", s.handleAddCredentials)

		r.Get("/admin/payments/pending", s.handlePendingApprovals)
		r.Get("/admin/payments/{id}", s.handleGetPayment)
		r.Post("/admin/payments/{id}/approve", s.handleApprove)
		r.Post("/admin/payments/{id}/reject", s.handleReject)

		r.Get("/admin/coupons", s.handleListCoupons)
		r.Post("/admin/coupons", s.handleAddCoupon)
		r.Delete("/admin/coupons/{code}", s.handleDeleteCoupon)

		r.Get("/admin/discounts", s.handleListDiscounts)
		r.Post("/admin/discounts", s.handleAddDiscount)
		r.Delete("/admin/discounts/{id}", s.handleRemoveDiscount)

		if s.settler != nil {
			r.Post("/admin/sandbox/charges/{ref}", s.handleSandboxSettle)
		}
	})
	return r
}

type loginRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	if !s.auth.CheckKey(req.APIKey) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("admin login refused")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, exp, err := s.auth.Mint(w, "admin")
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"token": token, "expires_at": exp})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) notifyWebhook(ctx context.Context, ref string) error {
	if s.webhooks == nil {
		return nil
	}
	return s.webhooks.HandleWebhook(ctx, usecase.WebhookEvent{Type: "payment", ResourceID: ref})
}
