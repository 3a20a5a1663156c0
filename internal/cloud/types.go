package cloud

// NodeIdentity is this node's view of itself, resolved once from instance
// metadata at process start and read-only afterwards.
type NodeIdentity struct {
	InstanceID       string
	PrivateIP        string
	AvailabilityZone string
	Region           string
}

// MembershipSet is the current membership of one autoscaling group. It is
// refreshed on demand and never cached across calls: the rally point choice
// must be computed from a fresh snapshot.
type MembershipSet struct {
	GroupName       string
	Members         []NodeIdentity
	DesiredCapacity int
}

// Size returns the number of members currently visible in the group.
func (m MembershipSet) Size() int { return len(m.Members) }
