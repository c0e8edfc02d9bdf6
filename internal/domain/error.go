package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnknownTier         = errors.New("unknown tier")
	ErrInvalidState        = errors.New("operation not valid for current state")
	ErrActivePaymentExists = errors.New("customer already has a payment in progress")
	ErrSalesSuspended      = errors.New("sales are suspended")
	ErrOutOfStock          = errors.New("no credential available for tier")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayRejected     = errors.New("payment gateway rejected the request")
	ErrDataCorruption      = errors.New("malformed persisted entity")

	// Storage errors
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("could not read database row")
	ErrInvalidExecContext = errors.New("invalid transaction handle")
	ErrLockOrder          = errors.New("collection locks acquired out of order")
)

// Kind buckets errors for propagation decisions at the edges (HTTP, sweeps).
type Kind string

const (
	KindNone                Kind = ""
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindStateConflict       Kind = "state_conflict"
	KindResourceExhausted   Kind = "resource_exhausted"
	KindExternalUnavailable Kind = "external_unavailable"
	KindDataCorruption      Kind = "data_corruption"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var rej *CouponRejection
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &rej),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrUnknownTier):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrActivePaymentExists),
		errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrSalesSuspended):
		return KindStateConflict
	case errors.Is(err, ErrOutOfStock):
		return KindResourceExhausted
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrGatewayRejected):
		return KindExternalUnavailable
	case errors.Is(err, ErrDataCorruption):
		return KindDataCorruption
	default:
		return KindInternal
	}
}

// CouponReason enumerates why a coupon was refused.
type CouponReason string

const (
	CouponNotFound                 CouponReason = "not_found"
	CouponExpired                  CouponReason = "expired"
	CouponTotalUsesExhausted       CouponReason = "total_uses_exhausted"
	CouponPerCustomerUsesExhausted CouponReason = "per_customer_uses_exhausted"
	CouponBelowMinimumPurchase     CouponReason = "below_minimum_purchase"
	CouponPlanNotApplicable        CouponReason = "plan_not_applicable"
	CouponFirstPurchaseNotEligible CouponReason = "first_purchase_not_eligible"
)

// CouponRejection is returned by coupon validation; it is user-correctable.
type CouponRejection struct {
	Code   string
	Reason CouponReason
}

func (e *CouponRejection) Error() string {
	return "coupon " + e.Code + " rejected: " + string(e.Reason)
}

// RejectCoupon builds a CouponRejection.
func RejectCoupon(code string, reason CouponReason) error {
	return &CouponRejection{Code: code, Reason: reason}
}
