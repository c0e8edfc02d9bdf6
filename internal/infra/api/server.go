package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/infra/logging"
	"subscription-fulfillment/internal/infra/payment"
	"subscription-fulfillment/internal/infra/redis"
	"subscription-fulfillment/internal/usecase"
)

// WebhookHandler applies a gateway notification.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, ev usecase.WebhookEvent) error
}

// Limiter is a per-key request budget; redis.RateLimiter implements it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	APIToken       string
	WebhookSecret  string // empty skips x-signature verification
	RequestTimeout time.Duration
	Limiter        Limiter
	PurchaseLimit  int
	PurchaseWindow time.Duration
}

// Server is the public surface: purchase flow, gateway webhook, health and metrics.
type Server struct {
	checkout usecase.CheckoutUseCase
	webhooks WebhookHandler
	opts     Options
	log      *zerolog.Logger
}

func NewServer(checkout usecase.CheckoutUseCase, webhooks WebhookHandler, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.PurchaseLimit <= 0 {
		opts.PurchaseLimit = 5
	}
	if opts.PurchaseWindow <= 0 {
		opts.PurchaseWindow = time.Minute
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{checkout: checkout, webhooks: webhooks, opts: opts, log: &l}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/gateway", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerToken(s.opts.APIToken))
		r.Get("/tiers", s.handleTiers)
		r.Post("/customers", s.handleRegister)
		r.Get("/customers/{customerID}", s.handleGetCustomer)
		r.Get("/customers/{customerID}/active-payment", s.handleActivePayment)
		r.Post("/purchases/preview", s.handlePreview)
		r.Post("/purchases", s.handleStartPurchase)
		r.Get("/purchases/{paymentID}", s.handlePaymentStatus)
		r.Post("/purchases/{paymentID}/charge", s.handlePay)
		r.Post("/purchases/{paymentID}/manual-transfer", s.handleManualTransfer)
		r.Post("/purchases/{paymentID}/cancel", s.handleCancel)
	})
	return r
}

func (s *Server) handleTiers(w http.ResponseWriter, _ *http.Request) {
	items := lo.Map(s.checkout.Tiers(), func(t model.Tier, _ int) TierDTO { return ToTierDTO(t) })
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	c, err := s.checkout.RegisterCustomer(r.Context(), req.CustomerID, req.ReferredBy)
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToCustomerDTO(c))
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := s.checkout.GetCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ToCustomerDTO(c))
}

func (s *Server) handleActivePayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.checkout.ActivePayment(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPaymentDTO(p))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	b, err := s.checkout.Preview(r.Context(), req.CustomerID, req.Tier, req.CouponCode)
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPriceDTO(b))
}

func (s *Server) handleStartPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	ctx := logging.WithCustomerID(r.Context(), req.CustomerID)
	if !s.allowPurchase(ctx, w, r, req.CustomerID) {
		return
	}
	p, b, err := s.checkout.StartPurchase(ctx, req.CustomerID, req.Tier, req.CouponCode)
	if err != nil {
		WriteError(w, r.WithContext(ctx), s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"payment": ToPaymentDTO(p),
		"price":   toPriceDTO(b),
	})
}

// allowPurchase enforces the per-customer purchase budget. A limiter outage
// lets the request through.
func (s *Server) allowPurchase(ctx context.Context, w http.ResponseWriter, r *http.Request, customerID string) bool {
	if s.opts.Limiter == nil {
		return true
	}
	ok, err := s.opts.Limiter.Allow(ctx, redis.PurchaseKey(customerID), s.opts.PurchaseLimit, s.opts.PurchaseWindow)
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many purchase attempts"})
		return false
	}
	return true
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, r, s.log, domain.ErrInvalidArgument)
		return
	}
	p, err := s.checkout.PaymentStatus(r.Context(), customerID, chi.URLParam(r, "paymentID"))
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPaymentDTO(p))
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	paymentID := chi.URLParam(r, "paymentID")
	ctx := logging.WithPaymentID(logging.WithCustomerID(r.Context(), req.CustomerID), paymentID)
	res, err := s.checkout.PayWithGateway(ctx, req.CustomerID, paymentID, req.PayerName)
	if err != nil {
		WriteError(w, r.WithContext(ctx), s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(res))
}

func (s *Server) handleManualTransfer(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	p, err := s.checkout.SubmitManualTransfer(r.Context(), req.CustomerID, chi.URLParam(r, "paymentID"), req.PayerName)
	if err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ToPaymentDTO(p))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := Decode(r, &req); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	if err := s.checkout.Cancel(r.Context(), req.CustomerID, chi.URLParam(r, "paymentID")); err != nil {
		WriteError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhook acknowledges with 200 once the event is applied or ignored;
// any other answer makes the provider redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		WriteError(w, r, s.log, domain.ErrInvalidArgument)
		return
	}
	ev, err := payment.ParseWebhook(body, r.URL.Query())
	if err != nil {
		WriteError(w, r, s.log, domain.ErrInvalidArgument)
		return
	}
	if s.opts.WebhookSecret != "" {
		err := payment.VerifySignature(s.opts.WebhookSecret, r.Header.Get("X-Signature"), r.Header.Get("X-Request-Id"), ev.ResourceID)
		if err != nil {
			s.log.Warn().Err(err).Str("resource_id", ev.ResourceID).Msg("webhook signature rejected")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bad signature"})
			return
		}
	}
	if err := s.webhooks.HandleWebhook(r.Context(), ev); err != nil && !errors.Is(err, domain.ErrOutOfStock) {
		WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
