package rally_test

import (
	"testing"

	"github.com/rallyops/rallypoint/internal/cloud"
	"github.com/rallyops/rallypoint/internal/rally"
)

func members(ids ...string) cloud.MembershipSet {
	m := cloud.MembershipSet{GroupName: "workers"}
	for _, id := range ids {
		m.Members = append(m.Members, cloud.NodeIdentity{InstanceID: id})
	}
	return m
}

func TestRallyPoint_PicksMinimumInstanceID(t *testing.T) {
	rp, ok := rally.RallyPoint(members("i-003", "i-001", "i-002"))
	if !ok {
		t.Fatal("expected a rally point")
	}
	if rp.InstanceID != "i-001" {
		t.Fatalf("expected i-001, got %s", rp.InstanceID)
	}
}

func TestRallyPoint_IndependentOfRetrievalOrder(t *testing.T) {
	orders := [][]string{
		{"i-001", "i-002", "i-003"},
		{"i-003", "i-002", "i-001"},
		{"i-002", "i-001", "i-003"},
		{"i-002", "i-003", "i-001"},
		{"i-001", "i-003", "i-002"},
		{"i-003", "i-001", "i-002"},
	}
	for _, order := range orders {
		rp, ok := rally.RallyPoint(members(order...))
		if !ok || rp.InstanceID != "i-001" {
			t.Fatalf("order %v: got %q, ok=%v", order, rp.InstanceID, ok)
		}
	}
}

func TestRallyPoint_ExactlyOneWinnerPerSnapshot(t *testing.T) {
	snapshot := members("i-00c", "i-00a", "i-00b")
	winners := 0
	for _, n := range snapshot.Members {
		if rally.IsRallyPoint(n, snapshot) {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRallyPoint_EmptyMembership(t *testing.T) {
	if _, ok := rally.RallyPoint(members()); ok {
		t.Fatal("empty membership must have no rally point")
	}
	if rally.IsRallyPoint(cloud.NodeIdentity{InstanceID: "i-001"}, members()) {
		t.Fatal("no node can be rally point of an empty membership")
	}
}

func TestIsRallyPoint_SelfNotInSnapshot(t *testing.T) {
	// A stale snapshot may not contain this node yet; it must not elect itself.
	if rally.IsRallyPoint(cloud.NodeIdentity{InstanceID: "i-000"}, members("i-001", "i-002")) {
		t.Fatal("a node outside the snapshot must not be rally point")
	}
}
