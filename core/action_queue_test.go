package core

import (
	"context"
	"testing"
)

func TestListInvalidOrderBy(t *testing.T) {
	q := &ActionQueue{}
	_, err := q.List(context.Background(), nil, nil, ActionOrderBy("bogus"), "")
	if !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error for invalid orderBy, got %v", err)
	}
}

func TestListInvalidOrderDirection(t *testing.T) {
	q := &ActionQueue{}
	_, err := q.List(context.Background(), nil, nil, ActionOrderByPriority, OrderDirection("sideways"))
	if !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error for invalid orderDirection, got %v", err)
	}
}

func TestDedupeIDs(t *testing.T) {
	got := dedupeIDs([]int64{3, 1, 3, 2, 1})
	want := []int64{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("dedupeIDs(%v) = %v, want %v", []int64{3, 1, 3, 2, 1}, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dedupeIDs(%v) = %v, want %v", []int64{3, 1, 3, 2, 1}, got, want)
		}
	}
}

func TestApproveCancelDeleteRequireIDs(t *testing.T) {
	q := &ActionQueue{}
	if _, err := q.Approve(context.Background(), nil); !IsKind(err, KindSchema) {
		t.Fatalf("Approve with no ids: expected schema error, got %v", err)
	}
	if _, err := q.Cancel(context.Background(), nil); !IsKind(err, KindSchema) {
		t.Fatalf("Cancel with no ids: expected schema error, got %v", err)
	}
	if err := q.Delete(context.Background(), nil); !IsKind(err, KindSchema) {
		t.Fatalf("Delete with no ids: expected schema error, got %v", err)
	}
}

func TestUpdateRequiresPatch(t *testing.T) {
	q := &ActionQueue{}
	_, err := q.Update(context.Background(), ActionFilter{IDs: []int64{1}}, ActionPatch{})
	if !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error for empty patch, got %v", err)
	}
}
