package notify

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestPublishWithoutBrokerIsNoop(t *testing.T) {
	n := New(Config{}, zap.NewNop())

	if err := n.PaymentCompleted(context.Background(), 7, 41, 3, 55000); err != nil {
		t.Fatalf("publishing with no broker configured must be a no-op, got %v", err)
	}
	if err := n.RefundDecided(context.Background(), 7, 41, true, ""); err != nil {
		t.Fatalf("publishing with no broker configured must be a no-op, got %v", err)
	}
}

func TestEventShape(t *testing.T) {
	approved := false
	payload, err := json.Marshal(event{
		Type:       "refund.decided",
		BuyerID:    7,
		OrderID:    41,
		Approved:   &approved,
		Reason:     "usage exceeds the refund policy",
		OccurredAt: "2026-03-20T14:00:00Z",
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if decoded["type"] != "refund.decided" {
		t.Fatalf("unexpected type %v", decoded["type"])
	}
	if decoded["approved"] != false {
		t.Fatalf("approved=false must survive marshaling, got %v", decoded["approved"])
	}
	if _, ok := decoded["course_id"]; ok {
		t.Fatalf("zero course_id must be omitted")
	}
}
