package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"github.com/kursadbilgin/consult-payments/internal/testutil"
)

func TestGormWebhookEventRepo_CreateAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewGormWebhookEventRepo(testutil.NewSQLiteDB(t))
	now := time.Now().UTC()
	reason := "unknown order"

	events := []*domain.WebhookEvent{
		{
			ID:         uuid.NewString(),
			Event:      "checkout.order.failed",
			OrderID:    "ord-1",
			State:      "FAILED",
			Outcome:    domain.WebhookOutcomeApplied,
			Payload:    []byte(`{"event":"checkout.order.failed"}`),
			ReceivedAt: now.Add(-time.Minute),
		},
		{
			ID:         uuid.NewString(),
			Event:      "checkout.order.completed",
			OrderID:    "ord-1",
			State:      "COMPLETED",
			Outcome:    domain.WebhookOutcomeApplied,
			Payload:    []byte(`{"event":"checkout.order.completed"}`),
			ReceivedAt: now,
		},
		{
			ID:         uuid.NewString(),
			Event:      "checkout.order.completed",
			OrderID:    "ord-2",
			State:      "COMPLETED",
			Outcome:    domain.WebhookOutcomeUnknownOrder,
			Error:      &reason,
			ReceivedAt: now,
		},
	}
	for _, e := range events {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := repo.ListByOrderID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("ListByOrderID() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByOrderID() = %d events, want 2", len(got))
	}
	if got[0].State != "FAILED" || got[1].State != "COMPLETED" {
		t.Fatalf("events out of order: %s then %s", got[0].State, got[1].State)
	}
	if string(got[1].Payload) != `{"event":"checkout.order.completed"}` {
		t.Fatalf("payload = %s", string(got[1].Payload))
	}

	unknown, err := repo.ListByOrderID(ctx, "ord-2")
	if err != nil {
		t.Fatalf("ListByOrderID() error = %v", err)
	}
	if len(unknown) != 1 || unknown[0].Outcome != domain.WebhookOutcomeUnknownOrder || unknown[0].Error == nil {
		t.Fatalf("unknown order event = %+v", unknown)
	}
}
