package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayStatus is the provider-agnostic state of a remote charge.
type GatewayStatus string

const (
	GatewayPending   GatewayStatus = "pending"
	GatewayApproved  GatewayStatus = "approved"
	GatewayRejected  GatewayStatus = "rejected"
	GatewayCancelled GatewayStatus = "cancelled"
)

type ChargeRequest struct {
	IdempotencyKey  string // fresh per attempt
	PaymentID       string
	Amount          decimal.Decimal
	Description     string
	PayerName       string
	PayerEmail      string
	ExpiresAt       time.Time
	NotificationURL string
}

type Charge struct {
	Ref            string
	DisplayPayload string // QR copy-paste code
	QRImageBase64  string
	Status         GatewayStatus
}

// PaymentGateway is the hex port for the short-expiry bank-transfer provider.
// Implementations must be safe for concurrent use and must not be called while
// any store lock is held.
type PaymentGateway interface {
	Name() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetStatus(ctx context.Context, ref string) (GatewayStatus, error)
	Cancel(ctx context.Context, ref string) error
}
