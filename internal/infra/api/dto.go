package api

import (
	"time"

	"github.com/samber/lo"

	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/usecase"
)

type registerRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
	ReferredBy string `json:"referred_by" validate:"omitempty,max=64,nefield=CustomerID"`
}

type purchaseRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
	Tier       string `json:"tier" validate:"required,max=32"`
	CouponCode string `json:"coupon_code" validate:"omitempty,max=64"`
}

type payRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
	PayerName  string `json:"payer_name" validate:"required,max=128"`
}

type cancelRequest struct {
	CustomerID string `json:"customer_id" validate:"required,max=64"`
}

type TierDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	DurationDays     int    `json:"duration_days"`
	FirstBuyPrice    string `json:"first_buy_price"`
	RegularPrice     string `json:"regular_price"`
	FirstBuyDiscount bool   `json:"first_buy_discount"`
}

type PlanDTO struct {
	Tier           string    `json:"tier"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExpiryNotified bool      `json:"expiry_notified"`
}

type CustomerDTO struct {
	ID                      string    `json:"id"`
	FirstPurchase           bool      `json:"first_purchase"`
	ReferredBy              string    `json:"referred_by,omitempty"`
	SuccessfulReferralCount int       `json:"successful_referral_count"`
	ActivePlans             []PlanDTO `json:"active_plans"`
	CreatedAt               time.Time `json:"created_at"`
}

// PaymentDTO omits the credential reference; the payload itself is only sent through the notifier.
type PaymentDTO struct {
	ID                  string     `json:"id"`
	CustomerID          string     `json:"customer_id"`
	Tier                string     `json:"tier"`
	Amount              string     `json:"amount"`
	OriginalAmount      string     `json:"original_amount"`
	CouponCode          string     `json:"coupon_code,omitempty"`
	ReferralDiscount    bool       `json:"referral_discount"`
	Status              string     `json:"status"`
	PayerName           string     `json:"payer_name,omitempty"`
	GatewayRef          string     `json:"gateway_ref,omitempty"`
	ChargeCreatedAt     *time.Time `json:"charge_created_at,omitempty"`
	CredentialDelivered bool       `json:"credential_delivered"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type PriceDTO struct {
	Tier             string `json:"tier"`
	BaseAmount       string `json:"base_amount"`
	FirstBuy         bool   `json:"first_buy"`
	SeasonalPercent  int    `json:"seasonal_percent,omitempty"`
	CouponCode       string `json:"coupon_code,omitempty"`
	CouponDiscount   string `json:"coupon_discount,omitempty"`
	ReferralDiscount bool   `json:"referral_discount"`
	Final            string `json:"final"`
}

type ChargeDTO struct {
	PaymentID      string    `json:"payment_id"`
	GatewayRef     string    `json:"gateway_ref"`
	DisplayPayload string    `json:"display_payload"`
	QRImageBase64  string    `json:"qr_image_base64,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func ToTierDTO(t model.Tier) TierDTO {
	return TierDTO{
		ID:               t.ID,
		Name:             t.Name,
		DurationDays:     t.DurationDays,
		FirstBuyPrice:    t.FirstBuyPrice.StringFixed(2),
		RegularPrice:     t.RegularPrice.StringFixed(2),
		FirstBuyDiscount: t.FirstBuyDiscount,
	}
}

func ToCustomerDTO(c *model.Customer) CustomerDTO {
	return CustomerDTO{
		ID:                      c.ID,
		FirstPurchase:           c.FirstPurchase,
		ReferredBy:              c.ReferredBy,
		SuccessfulReferralCount: c.SuccessfulReferralCount,
		ActivePlans: lo.Map(c.ActivePlans, func(p model.ActivePlan, _ int) PlanDTO {
			return PlanDTO{Tier: p.Tier, ExpiresAt: p.ExpiresAt, ExpiryNotified: p.ExpiryNotified}
		}),
		CreatedAt: c.CreatedAt,
	}
}

func ToPaymentDTO(p *model.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                  p.ID,
		CustomerID:          p.CustomerID,
		Tier:                p.Tier,
		Amount:              p.Amount.StringFixed(2),
		OriginalAmount:      p.OriginalAmount.StringFixed(2),
		CouponCode:          p.CouponCode,
		ReferralDiscount:    p.ReferralDiscount,
		Status:              string(p.Status),
		PayerName:           p.PayerName,
		GatewayRef:          p.GatewayRef,
		ChargeCreatedAt:     p.ChargeCreatedAt,
		CredentialDelivered: p.CredentialDelivered,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func ToPaymentDTOs(ps []*model.Payment) []PaymentDTO {
	return lo.Map(ps, func(p *model.Payment, _ int) PaymentDTO { return ToPaymentDTO(p) })
}

func toPriceDTO(b *usecase.PriceBreakdown) PriceDTO {
	out := PriceDTO{
		Tier:             b.Tier,
		BaseAmount:       b.BaseAmount.StringFixed(2),
		FirstBuy:         b.FirstBuy,
		SeasonalPercent:  b.SeasonalPercent,
		CouponCode:       b.CouponCode,
		ReferralDiscount: b.ReferralDiscount,
		Final:            b.Final.StringFixed(2),
	}
	if b.CouponCode != "" {
		out.CouponDiscount = b.CouponDiscount.StringFixed(2)
	}
	return out
}

func toChargeDTO(c *usecase.ChargeResult) ChargeDTO {
	return ChargeDTO{
		PaymentID:      c.PaymentID,
		GatewayRef:     c.GatewayRef,
		DisplayPayload: c.DisplayPayload,
		QRImageBase64:  c.QRImageBase64,
		ExpiresAt:      c.ExpiresAt,
	}
}
