package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"          // created; awaiting gateway charge or manual transfer
	PaymentStatusPendingApproval PaymentStatus = "pending_approval" // manual transfer submitted; admin must decide
	PaymentStatusApproved        PaymentStatus = "approved"         // money confirmed; credential not yet delivered
	PaymentStatusCompleted       PaymentStatus = "completed"        // credential delivered
	PaymentStatusRejected        PaymentStatus = "rejected"         // admin refused the manual transfer
	PaymentStatusCancelled       PaymentStatus = "cancelled"        // customer/admin/gateway cancel
	PaymentStatusExpired         PaymentStatus = "expired"          // gateway window elapsed while pending
)

// GatewayWindow is how long a charge stays payable at the gateway.
const GatewayWindow = 10 * time.Minute

var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {
		PaymentStatusPendingApproval,
		PaymentStatusApproved,
		PaymentStatusCancelled,
		PaymentStatusExpired,
	},
	PaymentStatusPendingApproval: {PaymentStatusApproved, PaymentStatusRejected},
	PaymentStatusApproved:        {PaymentStatusCompleted},
}

// ParsePaymentStatus validates a persisted status string.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch st := PaymentStatus(s); st {
	case PaymentStatusPending, PaymentStatusPendingApproval, PaymentStatusApproved,
		PaymentStatusCompleted, PaymentStatusRejected, PaymentStatusCancelled, PaymentStatusExpired:
		return st, true
	}
	return "", false
}

// CanTransition reports whether from -> to is an allowed forward edge.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range paymentEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves s.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentEdges[s]) == 0
}

// Payment is one purchase attempt by a customer for a tier.
type Payment struct {
	ID             string
	CustomerID     string
	Tier           string
	Amount         decimal.Decimal // what the customer pays
	OriginalAmount decimal.Decimal // catalog price before coupon/referral
	CouponCode     string
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time

	PayerName       string
	GatewayRef      string
	ChargeCreatedAt *time.Time // when GatewayRef was attached
	DisplayPayload  string     // QR / copy-paste code shown to the payer

	CredentialDelivered bool
	CredentialRef       string
	ReferralDiscount    bool // the one-time referral percent was applied
}

// AwaitingDelivery is true when money is confirmed but no credential went out.
func (p *Payment) AwaitingDelivery() bool {
	if p.CredentialDelivered {
		return false
	}
	return p.Status == PaymentStatusApproved || p.Status == PaymentStatusCompleted
}

// WindowStart is the instant the gateway window is measured from.
func (p *Payment) WindowStart() time.Time {
	if p.ChargeCreatedAt != nil {
		return *p.ChargeCreatedAt
	}
	return p.CreatedAt
}

// StaleAt reports whether a pending payment has outlived the gateway window.
func (p *Payment) StaleAt(now time.Time) bool {
	return p.Status == PaymentStatusPending && now.Sub(p.WindowStart()) > GatewayWindow
}

// PaymentPatch lists optional field updates applied by PaymentLedger.Update.
// Nil pointers mean "no change".
type PaymentPatch struct {
	Status              *PaymentStatus
	PayerName           *string
	GatewayRef          *string
	ChargeCreatedAt     *time.Time
	DisplayPayload      *string
	CredentialDelivered *bool
	CredentialRef       *string
}

// OnlyGatewayRef reports whether patch sets nothing but GatewayRef.
func (patch PaymentPatch) OnlyGatewayRef() bool {
	rest := patch
	rest.GatewayRef = nil
	return rest == PaymentPatch{}
}

// Apply mutates p with the set fields of patch. Status edges are not checked here.
func (patch PaymentPatch) Apply(p *Payment) {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.PayerName != nil {
		p.PayerName = *patch.PayerName
	}
	if patch.GatewayRef != nil {
		p.GatewayRef = *patch.GatewayRef
	}
	if patch.ChargeCreatedAt != nil {
		t := *patch.ChargeCreatedAt
		p.ChargeCreatedAt = &t
	}
	if patch.DisplayPayload != nil {
		p.DisplayPayload = *patch.DisplayPayload
	}
	if patch.CredentialDelivered != nil {
		p.CredentialDelivered = *patch.CredentialDelivered
	}
	if patch.CredentialRef != nil {
		p.CredentialRef = *patch.CredentialRef
	}
}
