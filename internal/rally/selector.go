// Package rally picks the bootstrap coordinator out of an autoscaling
// group's membership without any communication: every node applies the same
// pure function to the same directory snapshot and the minimum instance ID
// wins. Correctness of the election therefore rests on the directory
// returning a consistent view within the bootstrap window; if membership
// changes between two nodes' lookups, zero or two transient "winners" are
// possible, and the secret store's create-if-absent is what keeps that race
// at most-one-winner.
package rally

import "github.com/rallyops/rallypoint/internal/cloud"

// RallyPoint returns the member designated as bootstrap coordinator: the one
// with the lexicographically smallest instance ID. ok is false for an empty
// membership.
func RallyPoint(m cloud.MembershipSet) (cloud.NodeIdentity, bool) {
	if len(m.Members) == 0 {
		return cloud.NodeIdentity{}, false
	}
	min := m.Members[0]
	for _, n := range m.Members[1:] {
		if n.InstanceID < min.InstanceID {
			min = n
		}
	}
	return min, true
}

// IsRallyPoint reports whether self is the coordinator for the given
// membership snapshot. Identity is compared by instance ID only: the rest of
// NodeIdentity may be unresolved for members still starting up.
func IsRallyPoint(self cloud.NodeIdentity, m cloud.MembershipSet) bool {
	rp, ok := RallyPoint(m)
	return ok && rp.InstanceID == self.InstanceID
}
