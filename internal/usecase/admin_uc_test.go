//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"subscription-fulfillment/internal/domain"
	"subscription-fulfillment/internal/domain/model"
	"subscription-fulfillment/internal/domain/ports/repository"
)

func manualTransfer(t *testing.T, e *env, customerID string) *model.Payment {
	t.Helper()
	ctx := context.Background()
	p, _, err := e.checkout.StartPurchase(ctx, customerID, "30d", "")
	if err != nil {
		t.Fatalf("StartPurchase: %v", err)
	}
	if _, err := e.checkout.SubmitManualTransfer(ctx, customerID, p.ID, "Payer "+customerID); err != nil {
		t.Fatalf("SubmitManualTransfer: %v", err)
	}
	return p
}

func TestAdmin_ApprovePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("approval delivers the credential", func(t *testing.T) {
		// --- Arrange ---
		e := newEnv(t)
		e.stock(t, "30d", 1)
		p := manualTransfer(t, e, "c1")

		pending, err := e.admin.PendingApprovals(ctx)
		if err != nil || len(pending) != 1 || pending[0].ID != p.ID {
			t.Fatalf("PendingApprovals = %v %v", pending, err)
		}

		// --- Act ---
		d, err := e.admin.ApprovePayment(ctx, p.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("ApprovePayment: %v", err)
		}
		if d.Credential == nil || d.Payment.Status != model.PaymentStatusCompleted {
			t.Errorf("delivery = %+v", d)
		}
		if got := e.mustPayment(t, p.ID); got.PayerName != "Payer c1" || !got.CredentialDelivered {
			t.Errorf("payment = %+v", got)
		}
	})

	t.Run("approval without stock waits for restock", func(t *testing.T) {
		e := newEnv(t)
		p := manualTransfer(t, e, "c1")

		_, err := e.admin.ApprovePayment(ctx, p.ID)

		if !errors.Is(err, domain.ErrOutOfStock) {
			t.Fatalf("expected ErrOutOfStock, got %v", err)
		}
		if got := e.mustPayment(t, p.ID); got.Status != model.PaymentStatusApproved {
			t.Errorf("status = %s, want approved", got.Status)
		}

		n, err := e.admin.AddCredentials(ctx, "30d", []string{"fresh:one"})
		if err != nil || n != 1 {
			t.Fatalf("AddCredentials = %d %v", n, err)
		}
		if got := e.mustPayment(t, p.ID); got.Status != model.PaymentStatusCompleted {
			t.Errorf("status after restock = %s", got.Status)
		}
	})

	t.Run("re-approving an undelivered payment retries delivery", func(t *testing.T) {
		e := newEnv(t)
		p := manualTransfer(t, e, "c1")
		if _, err := e.admin.ApprovePayment(ctx, p.ID); !errors.Is(err, domain.ErrOutOfStock) {
			t.Fatalf("expected ErrOutOfStock, got %v", err)
		}
		c, err := model.NewCredential("30d", "x:y", e.clock.Now())
		if err != nil {
			t.Fatal(err)
		}
		// bypasses the restock hooks
		if err := e.invRepo.Enqueue(ctx, repository.NoTX, c); err != nil {
			t.Fatal(err)
		}

		d, err := e.admin.ApprovePayment(ctx, p.ID)

		if err != nil {
			t.Fatalf("ApprovePayment retry: %v", err)
		}
		if d.Credential.ID != c.ID {
			t.Errorf("delivered %s, want %s", d.Credential.ID, c.ID)
		}
	})

	t.Run("pending payment cannot be approved", func(t *testing.T) {
		e := newEnv(t)
		p, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", "")
		if err != nil {
			t.Fatal(err)
		}

		_, err = e.admin.ApprovePayment(ctx, p.ID)

		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("unknown payment", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.admin.ApprovePayment(ctx, "nope")

		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAdmin_RejectPayment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	p := manualTransfer(t, e, "c1")

	if err := e.admin.RejectPayment(ctx, p.ID); err != nil {
		t.Fatalf("RejectPayment: %v", err)
	}
	err := e.admin.RejectPayment(ctx, p.ID)

	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second reject: expected ErrInvalidState, got %v", err)
	}
	if got := e.mustPayment(t, p.ID); got.Status != model.PaymentStatusRejected {
		t.Errorf("status = %s", got.Status)
	}
	if n := e.notifier.containing("c1", "rejected"); n != 1 {
		t.Errorf("rejection messages = %d", n)
	}
	// the customer may buy again
	if _, _, err := e.checkout.StartPurchase(ctx, "c1", "30d", ""); err != nil {
		t.Errorf("StartPurchase after rejection: %v", err)
	}
}
