package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subscription-fulfillment/internal/domain"
)

// Tier is a purchasable plan duration bucket with its own price and credential pool.
type Tier struct {
	ID               string
	Name             string
	DurationDays     int
	FirstBuyPrice    decimal.Decimal
	RegularPrice     decimal.Decimal
	FirstBuyDiscount bool
}

func (t Tier) Duration() time.Duration {
	return time.Duration(t.DurationDays) * 24 * time.Hour
}

// NewTier validates and constructs a tier.
func NewTier(id, name string, durationDays int, firstBuy, regular decimal.Decimal, firstBuyDiscount bool) (Tier, error) {
	id = strings.TrimSpace(id)
	if id == "" || name == "" || durationDays <= 0 || !regular.IsPositive() {
		return Tier{}, domain.ErrInvalidArgument
	}
	if firstBuyDiscount && !firstBuy.IsPositive() {
		return Tier{}, domain.ErrInvalidArgument
	}
	return Tier{
		ID:               id,
		Name:             name,
		DurationDays:     durationDays,
		FirstBuyPrice:    firstBuy,
		RegularPrice:     regular,
		FirstBuyDiscount: firstBuyDiscount,
	}, nil
}

// Catalog is the immutable set of tiers on sale.
type Catalog struct {
	tiers map[string]Tier
}

func NewCatalog(tiers ...Tier) *Catalog {
	m := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		m[t.ID] = t
	}
	return &Catalog{tiers: m}
}

func (c *Catalog) Get(id string) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, domain.ErrUnknownTier
	}
	return t, nil
}

// IDs returns tier ids sorted by duration, shortest first.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.tiers))
	for id := range c.tiers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := c.tiers[out[i]], c.tiers[out[j]]
		if a.DurationDays != b.DurationDays {
			return a.DurationDays < b.DurationDays
		}
		return a.ID < b.ID
	})
	return out
}
