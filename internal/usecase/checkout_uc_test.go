//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/usecase"
)

func TestCheckout_RegisterCustomer(t *testing.T) {
	ctx := context.Background()

	t.Run("should ignore an unknown referrer", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)

		// --- Act ---
		c, err := e.checkout.RegisterCustomer(ctx, "c1", "ghost")

		// --- Assert ---
		if err != nil {
			t.Fatalf("RegisterCustomer: %v", err)
		}
		if c.ReferredBy != "" || !c.FirstPurchase {
			t.Errorf("unexpected customer %+v", c)
		}
	})

	t.Run("should keep the referrer of the first registration", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		if _, err := e.checkout.RegisterCustomer(ctx, "ref", ""); err != nil {
			t.Fatalf("RegisterCustomer(ref): %v", err)
		}
		if _, err := e.checkout.RegisterCustomer(ctx, "other", ""); err != nil {
			t.Fatalf("RegisterCustomer(other): %v", err)
		}
		if _, err := e.checkout.RegisterCustomer(ctx, "c1", "ref"); err != nil {
			t.Fatalf("RegisterCustomer(c1): %v", err)
		}

		// --- Act ---
		again, err := e.checkout.RegisterCustomer(ctx, "c1", "other")

		// --- Assert ---
		if err != nil {
			t.Fatalf("RegisterCustomer again: %v", err)
		}
		if again.ReferredBy != "ref" {
			t.Errorf("expected referrer to stay %q, got %q", "ref", again.ReferredBy)
		}
	})
}

func TestCheckout_Preview(t *testing.T) {
	ctx := context.Background()

	t.Run("should quote the first-buy price for an unknown customer", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)

		// --- Act ---
		br, err := e.checkout.Preview(ctx, "new", "30d", "")

		// --- Assert ---
		if err != nil {
			t.Fatalf("Preview: %v", err)
		}
		if !br.FirstBuy || !br.Final.Equal(dec("9.00")) || br.ReferralDiscount {
			t.Errorf("unexpected breakdown %+v", br)
		}
	})

	t.Run("should apply the referral only when no coupon is given", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.returningCustomer(t, "r1", "")
		e.returningCustomer(t, "c1", "r1")
		e.coupon(t, usecase.CouponInput{Code: "TEN", DiscountValue: dec("10")})

		// --- Act ---
		withCoupon, err := e.checkout.Preview(ctx, "c1", "30d", "ten")
		if err != nil {
			t.Fatalf("Preview with coupon: %v", err)
		}
		without, err := e.checkout.Preview(ctx, "c1", "30d", "")
		if err != nil {
			t.Fatalf("Preview without coupon: %v", err)
		}

		// --- Assert ---
		if withCoupon.ReferralDiscount || withCoupon.CouponCode != "TEN" || !withCoupon.Final.Equal(dec("18.00")) {
			t.Errorf("coupon preview = %+v, want 18.00 without referral", withCoupon)
		}
		if !withCoupon.CouponDiscount.Equal(dec("2.00")) {
			t.Errorf("expected 2.00 coupon discount, got %s", withCoupon.CouponDiscount)
		}
		if !without.ReferralDiscount || !without.Final.Equal(dec("19.00")) {
			t.Errorf("referral preview = %+v, want 19.00 with referral", without)
		}
	})

	t.Run("should reject an unknown tier", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)

		// --- Act ---
		_, err := e.checkout.Preview(ctx, "c1", "2y", "")

		// --- Assert ---
		if domain.KindOf(err) != domain.KindValidation {
			t.Errorf("expected a validation error, got %v", err)
		}
	})
}

func TestCheckout_Ownership(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	e := newEnv(t)
	p, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", "")
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}

	t.Run("should hide another customer's payment", func(t *testing.T) {
		// --- Act ---
		_, err := e.checkout.PaymentStatus(ctx, "c2", p.ID)

		// --- Assert ---
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should report the active payment to its owner", func(t *testing.T) {
		// --- Act ---
		active, err := e.checkout.ActivePayment(ctx, "c1")

		// --- Assert ---
		if err != nil {
			t.Fatalf("ActivePayment: %v", err)
		}
		if active == nil || active.ID != p.ID || active.Status != model.PaymentStatusPending {
			t.Errorf("unexpected active payment %+v", active)
		}
	})
}

func TestCheckout_Tiers(t *testing.T) {
	// --- Arrange ---
	e := newEnv(t)

	// --- Act ---
	tiers := e.checkout.Tiers()

	// --- Assert ---
	if len(tiers) != 3 || tiers[0].ID != "30d" || tiers[2].ID != "1y" {
		t.Errorf("unexpected tiers %+v", tiers)
	}
}
