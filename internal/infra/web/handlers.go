package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/api"
	"subscription-fulfillment/internal/usecase"
)

type salesDTO struct {
	State          string     `json:"state"`
	SuspendedSince *time.Time `json:"suspended_since,omitempty"`
	HardDeadline   *time.Time `json:"hard_deadline,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (s *Server) handleSalesState(w http.ResponseWriter, r *http.Request) {
	sc, err := s.admin.SalesState(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, salesDTO{
		State:          string(sc.State),
		SuspendedSince: sc.SuspendedSince,
		HardDeadline:   sc.HardDeadline,
		UpdatedAt:      sc.UpdatedAt,
	})
}

func (s *Server) handleToggleSales(w http.ResponseWriter, r *http.Request) {
	st, err := s.admin.ToggleSales(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	s.log.Info().Str("state", string(st)).Msg("sales toggled by operator")
	api.WriteJSON(w, http.StatusOK, map[string]string{"state": string(st)})
}

func (s *Server) handleInventoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.admin.InventoryCounts(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

type addCredentialRequest struct {
	Payload string `json:"payload" validate:"required,max=4096"`
}

type addCredentialsRequest struct {
	Payloads []string `json:"payloads" validate:"required,min=1,max=1000,dive,required,max=4096"`
}

func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	c, err := s.admin.AddCredential(r.Context(), chi.URLParam(r, "tier"), req.Payload)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]interface{}{"id": c.ID, "tier": c.Tier, "added_at": c.AddedAt})
}

func (s *Server) handleAddCredentials(w http.ResponseWriter, r *http.Request) {
	var req addCredentialsRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	n, err := s.admin.AddCredentials(r.Context(), chi.URLParam(r, "tier"), req.Payloads)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]int{"added": n})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	ps, err := s.admin.PendingApprovals(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": api.ToPaymentDTOs(ps)})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.admin.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.ToPaymentDTO(p))
}

type deliveryDTO struct {
	Payment      api.PaymentDTO `json:"payment"`
	CredentialID string         `json:"credential_id"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	d, err := s.admin.ApprovePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	out := deliveryDTO{Payment: api.ToPaymentDTO(d.Payment), ExpiresAt: d.Plan.ExpiresAt}
	if d.Credential != nil {
		out.CredentialID = d.Credential.ID
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.RejectPayment(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type couponRequest struct {
	Code               string     `json:"code" validate:"required,max=64"`
	DiscountType       string     `json:"discount_type" validate:"required,oneof=percent fixed"`
	DiscountValue      string     `json:"discount_value" validate:"required,numeric"`
	ExpiresAt          *time.Time `json:"expires_at"`
	MaxTotalUses       int        `json:"max_total_uses" validate:"min=0"`
	MaxUsesPerCustomer int        `json:"max_uses_per_customer" validate:"min=0"`
	MinPurchase        string     `json:"min_purchase" validate:"omitempty,numeric"`
	ApplicablePlans    []string   `json:"applicable_plans" validate:"omitempty,dive,required"`
}

type couponDTO struct {
	Code               string         `json:"code"`
	DiscountType       string         `json:"discount_type"`
	DiscountValue      string         `json:"discount_value"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	MaxTotalUses       int            `json:"max_total_uses"`
	MaxUsesPerCustomer int            `json:"max_uses_per_customer"`
	MinPurchase        string         `json:"min_purchase"`
	ApplicablePlans    []string       `json:"applicable_plans"`
	TotalUses          int            `json:"total_uses"`
	UsageHistory       map[string]int `json:"usage_history"`
}

func toCouponDTO(c *model.Coupon) couponDTO {
	return couponDTO{
		Code:               c.Code,
		DiscountType:       string(c.DiscountType),
		DiscountValue:      c.DiscountValue.String(),
		ExpiresAt:          c.ExpiresAt,
		MaxTotalUses:       c.MaxTotalUses,
		MaxUsesPerCustomer: c.MaxUsesPerCustomer,
		MinPurchase:        c.MinPurchase.StringFixed(2),
		ApplicablePlans:    c.ApplicablePlans,
		TotalUses:          c.TotalUses,
		UsageHistory:       c.UsageHistory,
	}
}

func (s *Server) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	cs, err := s.admin.Pricing().ListCoupons(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	items := lo.Map(cs, func(c *model.Coupon, _ int) couponDTO { return toCouponDTO(c) })
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleAddCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	value, err := decimal.NewFromString(req.DiscountValue)
	if err != nil {
		api.WriteError(w, r, s.log, domain.ErrInvalidArgument)
		return
	}
	minPurchase := decimal.Zero
	if req.MinPurchase != "" {
		if minPurchase, err = decimal.NewFromString(req.MinPurchase); err != nil {
			api.WriteError(w, r, s.log, domain.ErrInvalidArgument)
			return
		}
	}
	c, err := s.admin.Pricing().AddCoupon(r.Context(), usecase.CouponInput{
		Code:               req.Code,
		DiscountType:       model.DiscountType(req.DiscountType),
		DiscountValue:      value,
		ExpiresAt:          req.ExpiresAt,
		MaxTotalUses:       req.MaxTotalUses,
		MaxUsesPerCustomer: req.MaxUsesPerCustomer,
		MinPurchase:        minPurchase,
		ApplicablePlans:    req.ApplicablePlans,
	})
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toCouponDTO(c))
}

func (s *Server) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Pricing().DeleteCoupon(r.Context(), chi.URLParam(r, "code")); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type discountRequest struct {
	Percent int      `json:"percent" validate:"required,min=1,max=100"`
	Days    int      `json:"days" validate:"required,min=1"`
	Plans   []string `json:"plans" validate:"omitempty,dive,required"`
}

type discountDTO struct {
	ID              string    `json:"id"`
	Percent         int       `json:"percent"`
	ExpiresAt       time.Time `json:"expires_at"`
	ApplicablePlans []string  `json:"applicable_plans"`
}

func toDiscountDTO(d *model.SeasonalDiscount) discountDTO {
	return discountDTO{ID: d.ID, Percent: d.Percent, ExpiresAt: d.ExpiresAt, ApplicablePlans: d.ApplicablePlans}
}

func (s *Server) handleListDiscounts(w http.ResponseWriter, r *http.Request) {
	ds, err := s.admin.Pricing().ActiveSeasonalDiscounts(r.Context())
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	items := lo.Map(ds, func(d *model.SeasonalDiscount, _ int) discountDTO { return toDiscountDTO(d) })
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleAddDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	d, err := s.admin.Pricing().AddSeasonalDiscount(r.Context(), req.Percent, req.Days, req.Plans)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toDiscountDTO(d))
}

func (s *Server) handleRemoveDiscount(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.Pricing().RemoveSeasonalDiscount(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settleRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected cancelled"`
}

func (s *Server) handleSandboxSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	ref := chi.URLParam(r, "ref")
	if err := s.settler.Settle(ref, adapter.GatewayStatus(req.Status)); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	if err := s.notifyWebhook(r.Context(), ref); err != nil && !errors.Is(err, domain.ErrOutOfStock) {
		api.WriteError(w, r, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
