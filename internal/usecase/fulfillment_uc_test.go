//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
	"subscription-fulfillment/internal/usecase"
)

func TestFulfillmentCoordinator_Fulfill(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers credential and grants a plan", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.stock(t, "30d", 2)
		p := e.approvedPayment(t, "c1", "30d")

		// --- Act ---
		d, err := e.fulfillment.Fulfill(ctx, p.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("Fulfill: %v", err)
		}
		if d.Credential.SecretPayload != "30d-user0:secret" {
			t.Errorf("delivered %q, want the oldest credential", d.Credential.SecretPayload)
		}
		got := e.mustPayment(t, p.ID)
		if got.Status != model.PaymentStatusCompleted || !got.CredentialDelivered || got.CredentialRef != d.Credential.ID {
			t.Errorf("payment after fulfill = %+v", got)
		}
		cust := e.mustCustomer(t, "c1")
		if cust.FirstPurchase {
			t.Error("FirstPurchase still set after delivery")
		}
		if len(cust.ActivePlans) != 1 {
			t.Fatalf("ActivePlans = %d, want 1", len(cust.ActivePlans))
		}
		plan := cust.ActivePlans[0]
		if plan.SourcePaymentID != p.ID || plan.CredentialRef != d.Credential.ID {
			t.Errorf("plan = %+v", plan)
		}
		if want := e.clock.Now().AddDate(0, 0, 30); !plan.ExpiresAt.Equal(want) {
			t.Errorf("plan expires %s, want %s", plan.ExpiresAt, want)
		}
		if n, _ := e.inventory.Count(ctx, "30d"); n != 1 {
			t.Errorf("inventory = %d, want 1", n)
		}
		if e.notifier.containing("c1", "30d-user0:secret") != 1 {
			t.Errorf("customer messages = %v", e.notifier.to("c1"))
		}
	})

	t.Run("second fulfill of the same payment consumes nothing", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 2)
		p := e.approvedPayment(t, "c1", "30d")
		if _, err := e.fulfillment.Fulfill(ctx, p.ID); err != nil {
			t.Fatal(err)
		}

		_, err := e.fulfillment.Fulfill(ctx, p.ID)

		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
		if n, _ := e.inventory.Count(ctx, "30d"); n != 1 {
			t.Errorf("inventory = %d, want 1", n)
		}
		if got := len(e.mustCustomer(t, "c1").ActivePlans); got != 1 {
			t.Errorf("ActivePlans = %d, want 1", got)
		}
	})

	t.Run("pending payment is not fulfilled", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 1)
		p, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", "")
		if err != nil {
			t.Fatal(err)
		}

		_, err = e.fulfillment.Fulfill(ctx, p.ID)

		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
		if n, _ := e.inventory.Count(ctx, "30d"); n != 1 {
			t.Errorf("inventory = %d, want 1", n)
		}
	})

	t.Run("one credential two payers", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.stock(t, "30d", 1)
		a := e.approvedPayment(t, "a", "30d")
		b := e.approvedPayment(t, "b", "30d")

		// --- Act ---
		_, errA := e.fulfillment.Fulfill(ctx, a.ID)
		_, errB := e.fulfillment.Fulfill(ctx, b.ID)
		_, errB2 := e.fulfillment.Fulfill(ctx, b.ID)

		// --- Assert ---
		if errA != nil {
			t.Fatalf("Fulfill a: %v", errA)
		}
		if !errors.Is(errB, domain.ErrOutOfStock) || !errors.Is(errB2, domain.ErrOutOfStock) {
			t.Fatalf("Fulfill b: %v / %v, want ErrOutOfStock", errB, errB2)
		}
		gotB := e.mustPayment(t, b.ID)
		if gotB.Status != model.PaymentStatusApproved || gotB.CredentialDelivered {
			t.Errorf("b after out of stock = %s delivered=%v", gotB.Status, gotB.CredentialDelivered)
		}
		if n := e.notifier.containing(adminID, "Out of stock"); n != 1 {
			t.Errorf("out of stock admin alerts = %d, want 1", n)
		}

		// restock hook delivers the waiting payment
		e.stock(t, "30d", 1)

		if got := e.mustPayment(t, b.ID); got.Status != model.PaymentStatusCompleted {
			t.Errorf("b after restock = %s, want completed", got.Status)
		}
	})

	t.Run("concurrent fulfillment never oversells", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		const credentials, payers = 3, 8
		e.stock(t, "6m", credentials)
		ids := make([]string, payers)
		for i := range ids {
			ids[i] = e.approvedPayment(t, fmt.Sprintf("c%d", i), "6m").ID
		}

		// --- Act ---
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			delivered = map[string]string{}
			outOfStck int
			other     []error
		)
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				d, err := e.fulfillment.Fulfill(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					delivered[d.Credential.ID] = id
				case errors.Is(err, domain.ErrOutOfStock):
					outOfStck++
				default:
					other = append(other, err)
				}
			}(id)
		}
		wg.Wait()

		// --- Assert ---
		if len(other) > 0 {
			t.Fatalf("unexpected errors: %v", other)
		}
		if len(delivered) != credentials {
			t.Errorf("distinct credentials delivered = %d, want %d", len(delivered), credentials)
		}
		if outOfStck != payers-credentials {
			t.Errorf("out of stock = %d, want %d", outOfStck, payers-credentials)
		}
		if n, _ := e.inventory.Count(ctx, "6m"); n != 0 {
			t.Errorf("inventory left = %d", n)
		}
		undelivered, err := e.ledger.UndeliveredPaid(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(undelivered) != payers-credentials {
			t.Errorf("undelivered = %d, want %d", len(undelivered), payers-credentials)
		}
	})
}

func TestFulfillmentCoordinator_Referrals(t *testing.T) {
	ctx := context.Background()

	t.Run("referrer is credited once per referred customer", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.stock(t, "30d", 2)
		if _, err := e.checkout.RegisterCustomer(ctx, "ref", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := e.checkout.RegisterCustomer(ctx, "c1", "ref"); err != nil {
			t.Fatal(err)
		}

		// --- Act ---
		first := e.approvedPayment(t, "c1", "30d")
		d1, err := e.fulfillment.Fulfill(ctx, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		second := e.approvedPayment(t, "c1", "30d")
		d2, err := e.fulfillment.Fulfill(ctx, second.ID)
		if err != nil {
			t.Fatal(err)
		}

		// --- Assert ---
		if d1.ReferrerID != "ref" || d1.ReferralCount != 1 {
			t.Errorf("first delivery referral = %s/%d", d1.ReferrerID, d1.ReferralCount)
		}
		if d2.ReferrerID != "" {
			t.Errorf("second delivery credited %s again", d2.ReferrerID)
		}
		if got := e.mustCustomer(t, "ref").SuccessfulReferralCount; got != 1 {
			t.Errorf("SuccessfulReferralCount = %d, want 1", got)
		}
		if !e.mustCustomer(t, "c1").ReferralCredited {
			t.Error("ReferralCredited not set")
		}
	})

	t.Run("unknown referrer is ignored at registration", func(t *testing.T) {
		e := newEnv(t)

		c, err := e.checkout.RegisterCustomer(ctx, "c1", "ghost")

		if err != nil {
			t.Fatal(err)
		}
		if c.ReferredBy != "" {
			t.Errorf("ReferredBy = %q, want empty", c.ReferredBy)
		}
	})

	t.Run("every third referral alerts admins and the referrer", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 3)
		if _, err := e.checkout.RegisterCustomer(ctx, "ref", ""); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("friend%d", i)
			if _, err := e.checkout.RegisterCustomer(ctx, id, "ref"); err != nil {
				t.Fatal(err)
			}
			p := e.approvedPayment(t, id, "30d")
			if _, err := e.fulfillment.Fulfill(ctx, p.ID); err != nil {
				t.Fatal(err)
			}
		}

		if n := e.notifier.containing(adminID, "Referral milestone"); n != 1 {
			t.Errorf("milestone admin alerts = %d, want 1", n)
		}
		if n := e.notifier.containing("ref", "3 successful referrals"); n != 1 {
			t.Errorf("referrer reward messages = %d, want 1", n)
		}
	})

	t.Run("referral discount is consumed on delivery", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 1)
		e.returningCustomer(t, "ref", "")
		e.returningCustomer(t, "c1", "ref")

		p, br, err := e.checkout.StartPurchase(ctx, "c1", "30d", "")
		if err != nil {
			t.Fatal(err)
		}
		if !br.ReferralDiscount || !p.ReferralDiscount || !p.Amount.Equal(dec("19.00")) {
			t.Fatalf("purchase = %+v breakdown = %+v", p, br)
		}
		if ok, err := e.ledger.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusApproved); !ok || err != nil {
			t.Fatal(ok, err)
		}
		if _, err := e.fulfillment.Fulfill(ctx, p.ID); err != nil {
			t.Fatal(err)
		}

		if !e.mustCustomer(t, "c1").ReferralDiscountUsed {
			t.Error("ReferralDiscountUsed not set")
		}
		again, err := e.checkout.Preview(ctx, "c1", "30d", "")
		if err != nil {
			t.Fatal(err)
		}
		if again.ReferralDiscount {
			t.Error("referral discount offered twice")
		}
	})
}

func TestFulfillmentCoordinator_CouponCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("use is recorded at delivery", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 1)
		e.returningCustomer(t, "c1", "")
		e.coupon(t, usecase.CouponInput{Code: "TEN", DiscountValue: dec("10")})

		p, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", "ten")
		if err != nil {
			t.Fatal(err)
		}
		before, _ := e.coupons.FindByCode(ctx, repository.NoTX, "TEN")
		if ok, err := e.ledger.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusApproved); !ok || err != nil {
			t.Fatal(ok, err)
		}
		if _, err := e.fulfillment.Fulfill(ctx, p.ID); err != nil {
			t.Fatal(err)
		}

		after, err := e.coupons.FindByCode(ctx, repository.NoTX, "TEN")
		if err != nil {
			t.Fatal(err)
		}
		if before.TotalUses != 0 {
			t.Errorf("uses before delivery = %d, want 0", before.TotalUses)
		}
		if after.TotalUses != 1 || after.UsageHistory["c1"] != 1 {
			t.Errorf("after delivery total=%d c1=%d", after.TotalUses, after.UsageHistory["c1"])
		}
	})

	t.Run("concurrent holders never exceed the limit", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.stock(t, "30d", 2)
		e.returningCustomer(t, "a", "")
		e.returningCustomer(t, "b", "")
		e.coupon(t, usecase.CouponInput{Code: "LAST", DiscountValue: dec("50"), MaxTotalUses: 1})

		pa, _, errA := e.checkout.StartPurchase(ctx, "a", "30d", "LAST")
		pb, _, errB := e.checkout.StartPurchase(ctx, "b", "30d", "LAST")
		if errA != nil || errB != nil {
			t.Fatalf("StartPurchase: %v %v", errA, errB)
		}
		for _, id := range []string{pa.ID, pb.ID} {
			if ok, err := e.ledger.Transition(ctx, id, model.PaymentStatusPending, model.PaymentStatusApproved); !ok || err != nil {
				t.Fatal(ok, err)
			}
		}

		// --- Act ---
		_, err1 := e.fulfillment.Fulfill(ctx, pa.ID)
		_, err2 := e.fulfillment.Fulfill(ctx, pb.ID)

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("paid customers must still be delivered: %v %v", err1, err2)
		}
		c, err := e.coupons.FindByCode(ctx, repository.NoTX, "LAST")
		if err != nil {
			t.Fatal(err)
		}
		if c.TotalUses != 1 {
			t.Errorf("TotalUses = %d, want 1", c.TotalUses)
		}
	})

	t.Run("deleted coupon does not block delivery", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "30d", 1)
		e.returningCustomer(t, "c1", "")
		e.coupon(t, usecase.CouponInput{Code: "GONE", DiscountValue: dec("10")})
		p, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", "GONE")
		if err != nil {
			t.Fatal(err)
		}
		if err := e.pricing.DeleteCoupon(ctx, "gone"); err != nil {
			t.Fatal(err)
		}
		if ok, err := e.ledger.Transition(ctx, p.ID, model.PaymentStatusPending, model.PaymentStatusApproved); !ok || err != nil {
			t.Fatal(ok, err)
		}

		if _, err := e.fulfillment.Fulfill(ctx, p.ID); err != nil {
			t.Errorf("Fulfill: %v", err)
		}
	})
}

func TestInventoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("batch trims and dedupes", func(t *testing.T) {
		e := newEnv(t)

		n, err := e.inventory.EnqueueBatch(ctx, "30d", []string{"a:1", " a:1 ", "", "b:2"})

		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("loaded %d, want 2", n)
		}
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.inventory.EnqueueBatch(ctx, "30d", []string{" ", ""})

		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.inventory.Enqueue(ctx, "weekly", "x")

		if !errors.Is(err, domain.ErrUnknownTier) {
			t.Errorf("expected ErrUnknownTier, got %v", err)
		}
	})

	t.Run("counts cover every tier", func(t *testing.T) {
		e := newEnv(t)
		e.stock(t, "1y", 2)

		counts, err := e.inventory.Counts(ctx)

		if err != nil {
			t.Fatal(err)
		}
		want := map[string]int{"30d": 0, "6m": 0, "1y": 2}
		for k, v := range want {
			if counts[k] != v {
				t.Errorf("counts[%s] = %d, want %d", k, counts[k], v)
			}
		}
		if total, _ := e.inventory.CountAll(ctx); total != 2 {
			t.Errorf("CountAll = %d, want 2", total)
		}
	})
}
