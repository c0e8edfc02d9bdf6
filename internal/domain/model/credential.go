package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"subscription-fulfillment/internal/domain"
)

// Credential is a pre-provisioned secret sold to exactly one customer.
// IDs are ULIDs, so ordering by ID is ordering by insertion.
type Credential struct {
	ID            string
	Tier          string
	SecretPayload string
	AddedAt       time.Time
}

var entropy = ulid.DefaultEntropy()

// NewCredential validates and constructs a credential stamped at now.
func NewCredential(tier, payload string, now time.Time) (*Credential, error) {
	tier = strings.TrimSpace(tier)
	payload = strings.TrimSpace(payload)
	if tier == "" || payload == "" {
		return nil, domain.ErrInvalidArgument
	}
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		// monotonic entropy overflow within one millisecond; fall back to fresh randomness
		id = ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	}
	return &Credential{
		ID:            id.String(),
		Tier:          tier,
		SecretPayload: payload,
		AddedAt:       now,
	}, nil
}
