package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/ports/adapter"
	"subscription-fulfillment/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*MercadoPagoGateway)(nil)

type MercadoPagoConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	RetryMax    int
}

// MercadoPagoGateway talks to the /v1/payments API. Transport errors and 5xx
// answers are retried by retryablehttp; POSTs are safe to retry because every
// attempt carries the caller's idempotency key.
type MercadoPagoGateway struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
	log     *zerolog.Logger
}

func NewMercadoPagoGateway(cfg MercadoPagoConfig, logger *zerolog.Logger) *MercadoPagoGateway {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "gateway").Str("gateway", "mercadopago").Logger()
	rc.Logger = leveledLogger{log: &l}
	return &MercadoPagoGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		client:  rc,
		log:     &l,
	}
}

func (g *MercadoPagoGateway) Name() string { return "mercadopago" }

type mpPayer struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type mpCreateRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Payer             mpPayer     `json:"payer"`
	DateOfExpiration  string      `json:"date_of_expiration"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	ExternalReference string      `json:"external_reference"`
}

type mpPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// mpTimeLayout is the ISO-8601 form the API expects for date_of_expiration.
const mpTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func (g *MercadoPagoGateway) CreateCharge(ctx context.Context, req adapter.ChargeRequest) (*adapter.Charge, error) {
	if req.IdempotencyKey == "" || !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	body := mpCreateRequest{
		TransactionAmount: json.Number(req.Amount.StringFixed(2)),
		Description:       req.Description,
		PaymentMethodID:   "pix",
		Payer:             mpPayer{Email: req.PayerEmail, FirstName: req.PayerName},
		DateOfExpiration:  req.ExpiresAt.Format(mpTimeLayout),
		NotificationURL:   req.NotificationURL,
		ExternalReference: req.PaymentID,
	}
	var out mpPayment
	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	if err := g.do(ctx, "create", http.MethodPost, "/v1/payments", body, headers, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: create returned no id", domain.ErrGatewayUnavailable)
	}
	return &adapter.Charge{
		Ref:            out.ID.String(),
		DisplayPayload: out.PointOfInteraction.TransactionData.QRCode,
		QRImageBase64:  out.PointOfInteraction.TransactionData.QRCodeBase64,
		Status:         MapStatus(out.Status),
	}, nil
}

func (g *MercadoPagoGateway) GetStatus(ctx context.Context, ref string) (adapter.GatewayStatus, error) {
	var out mpPayment
	if err := g.do(ctx, "get", http.MethodGet, "/v1/payments/"+ref, nil, nil, &out); err != nil {
		return "", err
	}
	return MapStatus(out.Status), nil
}

func (g *MercadoPagoGateway) Cancel(ctx context.Context, ref string) error {
	body := map[string]string{"status": "cancelled"}
	return g.do(ctx, "cancel", http.MethodPut, "/v1/payments/"+ref, body, nil, nil)
}

// MapStatus folds the provider's status vocabulary into the four states the
// reconciler acts on. Unknown values are treated as still pending.
func MapStatus(s string) adapter.GatewayStatus {
	switch strings.ToLower(s) {
	case "approved":
		return adapter.GatewayApproved
	case "rejected", "refunded", "charged_back":
		return adapter.GatewayRejected
	case "cancelled":
		return adapter.GatewayCancelled
	default: // pending, in_process, authorized, in_mediation
		return adapter.GatewayPending
	}
}

func (g *MercadoPagoGateway) do(ctx context.Context, op, method, path string, in interface{}, headers map[string]string, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(op, err == nil, time.Since(start).Seconds()) }()

	var raw []byte
	if in != nil {
		if raw, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%w: encode %s: %v", domain.ErrInvalidArgument, op, err)
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, g.baseURL+path, raw)
	if err != nil {
		return fmt.Errorf("%w: build %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, op, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", domain.ErrGatewayUnavailable, op, resp.StatusCode)
	case resp.StatusCode >= 400:
		g.log.Warn().Str("op", op).Int("status", resp.StatusCode).Bytes("body", truncate(body, 512)).Msg("gateway refused request")
		return fmt.Errorf("%w: %s: status %d", domain.ErrGatewayRejected, op, resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrGatewayUnavailable, op, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// leveledLogger routes retryablehttp's logging into zerolog.
type leveledLogger struct{ log *zerolog.Logger }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
