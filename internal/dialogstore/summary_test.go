package dialogstore

import (
	"context"
	"testing"
)

func TestSummaryRoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d, err := s.CreateDialog(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("CreateDialog: %v", err)
	}

	if got, err := s.GetSummary(ctx, d.ID); err != nil || got != nil {
		t.Fatalf("GetSummary on fresh dialog = (%v, %v), want (nil, nil)", got, err)
	}

	if err := s.PutSummary(ctx, d.ID, "first summary", 4); err != nil {
		t.Fatalf("PutSummary: %v", err)
	}
	got, err := s.GetSummary(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.Content != "first summary" || got.CoversUpToIdx != 4 {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if err := s.PutSummary(ctx, d.ID, "second summary", 9); err != nil {
		t.Fatalf("PutSummary overwrite: %v", err)
	}
	got, err = s.GetSummary(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetSummary after overwrite: %v", err)
	}
	if got.Content != "second summary" || got.CoversUpToIdx != 9 {
		t.Fatalf("expected overwritten summary, got %+v", got)
	}

	if err := s.DeleteSummary(ctx, d.ID); err != nil {
		t.Fatalf("DeleteSummary: %v", err)
	}
	if got, err := s.GetSummary(ctx, d.ID); err != nil || got != nil {
		t.Fatalf("GetSummary after delete = (%v, %v), want (nil, nil)", got, err)
	}
}
