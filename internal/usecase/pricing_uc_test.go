//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/usecase"
)

func TestPricingEngine_Price(t *testing.T) {
	ctx := context.Background()

	t.Run("first purchase gets the first-buy price", func(t *testing.T) {
		e := newEnv(t)

		q, err := e.pricing.Price(ctx, nil, "30d")

		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if !q.FirstBuy || !q.Amount.Equal(dec("9.00")) {
			t.Errorf("got firstBuy=%v amount=%s, want true 9.00", q.FirstBuy, q.Amount)
		}
	})

	t.Run("returning customer pays the regular price", func(t *testing.T) {
		e := newEnv(t)
		c := e.returningCustomer(t, "c1", "")

		q, err := e.pricing.Price(ctx, c, "30d")

		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if q.FirstBuy || !q.Amount.Equal(dec("20.00")) {
			t.Errorf("got firstBuy=%v amount=%s, want false 20.00", q.FirstBuy, q.Amount)
		}
	})

	t.Run("tier without first-buy discount uses regular price", func(t *testing.T) {
		e := newEnv(t)

		q, err := e.pricing.Price(ctx, nil, "1y")

		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		if q.FirstBuy || !q.Amount.Equal(dec("110.00")) {
			t.Errorf("got firstBuy=%v amount=%s, want false 110.00", q.FirstBuy, q.Amount)
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.pricing.Price(ctx, nil, "lifetime")

		if !errors.Is(err, domain.ErrUnknownTier) {
			t.Errorf("expected ErrUnknownTier, got %v", err)
		}
	})

	t.Run("largest applicable seasonal discount wins", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		c := e.returningCustomer(t, "c1", "")
		if _, err := e.pricing.AddSeasonalDiscount(ctx, 10, 7, nil); err != nil {
			t.Fatal(err)
		}
		best, err := e.pricing.AddSeasonalDiscount(ctx, 25, 7, []string{"30d"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.pricing.AddSeasonalDiscount(ctx, 50, 7, []string{"6m"}); err != nil {
			t.Fatal(err)
		}

		// --- Act ---
		first, err1 := e.pricing.Price(ctx, nil, "30d")
		regular, err2 := e.pricing.Price(ctx, c, "30d")

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("Price errors: %v %v", err1, err2)
		}
		if !first.Amount.Equal(dec("6.75")) {
			t.Errorf("first-buy seasonal amount = %s, want 6.75", first.Amount)
		}
		if !regular.Amount.Equal(dec("15.00")) {
			t.Errorf("regular seasonal amount = %s, want 15.00", regular.Amount)
		}
		if regular.SeasonalPercent != 25 || regular.SeasonalID != best.ID {
			t.Errorf("picked discount %d/%s, want 25/%s", regular.SeasonalPercent, regular.SeasonalID, best.ID)
		}
		if !regular.BaseAmount.Equal(dec("20.00")) {
			t.Errorf("base amount = %s, want 20.00", regular.BaseAmount)
		}
	})

	t.Run("expired seasonal discount is ignored", func(t *testing.T) {
		e := newEnv(t)
		if _, err := e.pricing.AddSeasonalDiscount(ctx, 30, 1, nil); err != nil {
			t.Fatal(err)
		}
		e.clock.Advance(25 * time.Hour)

		q, err := e.pricing.Price(ctx, nil, "30d")

		if err != nil {
			t.Fatal(err)
		}
		if q.SeasonalPercent != 0 || !q.Amount.Equal(dec("9.00")) {
			t.Errorf("got %d%% amount %s, want no discount", q.SeasonalPercent, q.Amount)
		}
	})

	t.Run("full seasonal discount floors at minimum charge", func(t *testing.T) {
		e := newEnv(t)
		d, err := e.pricing.AddSeasonalDiscount(ctx, 250, 3, nil)
		if err != nil {
			t.Fatal(err)
		}
		if d.Percent != 100 {
			t.Fatalf("percent clamp = %d, want 100", d.Percent)
		}

		q, err := e.pricing.Price(ctx, nil, "6m")

		if err != nil {
			t.Fatal(err)
		}
		if !q.Amount.Equal(dec("0.01")) {
			t.Errorf("amount = %s, want 0.01", q.Amount)
		}
	})
}

func TestPricingEngine_ValidateCoupon(t *testing.T) {
	ctx := context.Background()
	past := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		setup    func(t *testing.T, e *env)
		customer string
		tier     string
		amount   string
		code     string
		reason   domain.CouponReason
	}{
		{
			name:     "unknown code",
			setup:    func(t *testing.T, e *env) {},
			customer: "c1", tier: "30d", amount: "20", code: "NOPE",
			reason: domain.CouponNotFound,
		},
		{
			name: "expired",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "OLD", DiscountValue: dec("10"), ExpiresAt: &past})
			},
			customer: "c1", tier: "30d", amount: "20", code: "old",
			reason: domain.CouponExpired,
		},
		{
			name: "total uses exhausted",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "ONCE", DiscountValue: dec("10"), MaxTotalUses: 1})
				if ok, err := e.coupons.Redeem(ctx, repository.NoTX, "ONCE", "someone-else", "p-x", e.clock.Now()); !ok || err != nil {
					t.Fatalf("Redeem: %v %v", ok, err)
				}
			},
			customer: "c1", tier: "30d", amount: "20", code: "ONCE",
			reason: domain.CouponTotalUsesExhausted,
		},
		{
			name: "per customer uses exhausted",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "MINE", DiscountValue: dec("10"), MaxTotalUses: 10})
				if ok, err := e.coupons.Redeem(ctx, repository.NoTX, "MINE", "c1", "p-x", e.clock.Now()); !ok || err != nil {
					t.Fatalf("Redeem: %v %v", ok, err)
				}
			},
			customer: "c1", tier: "30d", amount: "20", code: "MINE",
			reason: domain.CouponPerCustomerUsesExhausted,
		},
		{
			name: "below minimum purchase",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "BIG", DiscountValue: dec("10"), MinPurchase: dec("50")})
			},
			customer: "c1", tier: "30d", amount: "20", code: "BIG",
			reason: domain.CouponBelowMinimumPurchase,
		},
		{
			name: "plan not applicable",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "SEMI", DiscountValue: dec("10"), ApplicablePlans: []string{"6m"}})
			},
			customer: "c1", tier: "30d", amount: "20", code: "SEMI",
			reason: domain.CouponPlanNotApplicable,
		},
		{
			name: "first purchase is not eligible",
			setup: func(t *testing.T, e *env) {
				e.coupon(t, usecase.CouponInput{Code: "WELCOME", DiscountValue: dec("10")})
			},
			customer: "never-seen", tier: "30d", amount: "9", code: "WELCOME",
			reason: domain.CouponFirstPurchaseNotEligible,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			e := newEnv(t)
			e.returningCustomer(t, "c1", "")
			tc.setup(t, e)

			// --- Act ---
			_, err := e.pricing.ValidateCoupon(ctx, tc.code, tc.customer, tc.tier, dec(tc.amount))

			// --- Assert ---
			var rej *domain.CouponRejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected CouponRejection, got %v", err)
			}
			if rej.Reason != tc.reason {
				t.Errorf("reason = %s, want %s", rej.Reason, tc.reason)
			}
			if domain.KindOf(err) != domain.KindValidation {
				t.Errorf("kind = %s, want validation", domain.KindOf(err))
			}
		})
	}

	t.Run("expiry is reported before usage limits", func(t *testing.T) {
		e := newEnv(t)
		e.returningCustomer(t, "c1", "")
		e.coupon(t, usecase.CouponInput{Code: "BOTH", DiscountValue: dec("10"), ExpiresAt: &past, MaxTotalUses: 1})
		_, _ = e.coupons.Redeem(ctx, repository.NoTX, "BOTH", "x", "p-x", e.clock.Now())

		_, err := e.pricing.ValidateCoupon(ctx, "BOTH", "c1", "30d", dec("20"))

		var rej *domain.CouponRejection
		if !errors.As(err, &rej) || rej.Reason != domain.CouponExpired {
			t.Errorf("expected expired rejection, got %v", err)
		}
	})

	t.Run("valid percent and fixed coupons", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.returningCustomer(t, "c1", "")
		e.coupon(t, usecase.CouponInput{Code: "TEN", DiscountValue: dec("10")})
		e.coupon(t, usecase.CouponInput{Code: "HUGE", DiscountType: "fixed", DiscountValue: dec("25")})

		// --- Act ---
		pct, err1 := e.pricing.ValidateCoupon(ctx, " ten ", "c1", "30d", dec("20.00"))
		fixed, err2 := e.pricing.ValidateCoupon(ctx, "HUGE", "c1", "30d", dec("20.00"))

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("ValidateCoupon errors: %v %v", err1, err2)
		}
		if pct.Code != "TEN" || !pct.Discount.Equal(dec("2.00")) || !pct.FinalAmount.Equal(dec("18.00")) {
			t.Errorf("percent quote = %+v", pct)
		}
		if !fixed.Discount.Equal(dec("19.99")) || !fixed.FinalAmount.Equal(dec("0.01")) {
			t.Errorf("fixed quote = %+v, want capped at 0.01 final", fixed)
		}
	})

	t.Run("validation does not consume uses", func(t *testing.T) {
		e := newEnv(t)
		e.returningCustomer(t, "c1", "")
		e.coupon(t, usecase.CouponInput{Code: "PURE", DiscountValue: dec("10"), MaxTotalUses: 1})

		first, err1 := e.pricing.ValidateCoupon(ctx, "PURE", "c1", "30d", dec("20"))
		second, err2 := e.pricing.ValidateCoupon(ctx, "PURE", "c1", "30d", dec("20"))

		if err1 != nil || err2 != nil {
			t.Fatalf("errors: %v %v", err1, err2)
		}
		if !first.FinalAmount.Equal(second.FinalAmount) {
			t.Errorf("results differ: %s vs %s", first.FinalAmount, second.FinalAmount)
		}
		c, err := e.coupons.FindByCode(ctx, repository.NoTX, "PURE")
		if err != nil {
			t.Fatal(err)
		}
		if c.TotalUses != 0 {
			t.Errorf("TotalUses = %d, want 0", c.TotalUses)
		}
	})
}

func TestPricingEngine_ApplyReferral(t *testing.T) {
	e := newEnv(t)
	referred := e.returningCustomer(t, "c1", "r1")
	plain := e.returningCustomer(t, "c2", "")
	used := e.returningCustomer(t, "c3", "r1")
	used.ReferralDiscountUsed = true
	first := e.returningCustomer(t, "c4", "r1")
	first.FirstPurchase = true

	t.Run("referred returning customer gets the percent once", func(t *testing.T) {
		got, ok := e.pricing.ApplyReferral(referred, dec("20.00"))
		if !ok || !got.Equal(dec("19.00")) {
			t.Errorf("got %s %v, want 19.00 true", got, ok)
		}
	})
	t.Run("not referred", func(t *testing.T) {
		got, ok := e.pricing.ApplyReferral(plain, dec("20.00"))
		if ok || !got.Equal(dec("20.00")) {
			t.Errorf("got %s %v, want unchanged", got, ok)
		}
	})
	t.Run("already used", func(t *testing.T) {
		if _, ok := e.pricing.ApplyReferral(used, dec("20.00")); ok {
			t.Error("referral applied twice")
		}
	})
	t.Run("first purchase keeps the first-buy price only", func(t *testing.T) {
		if _, ok := e.pricing.ApplyReferral(first, dec("9.00")); ok {
			t.Error("referral stacked on first-buy price")
		}
	})
	t.Run("nil customer", func(t *testing.T) {
		if _, ok := e.pricing.ApplyReferral(nil, dec("9.00")); ok {
			t.Error("referral applied to unknown customer")
		}
	})
}
