package model

// ParentType returns the only node type allowed as logical parent of t.
// Plants are roots and have none.
func (t NodeType) ParentType() (NodeType, bool) {
	switch t {
	case Consumer:
		return DistributionSubstation, true
	case DistributionSubstation:
		return TransmissionSubstation, true
	case TransmissionSubstation:
		return Plant, true
	case Plant:
		return NodeTypeUnknown, false
	default:
		return NodeTypeUnknown, false
	}
}

// AcceptsParent reports whether parent is an allowed supplier for t.
func (t NodeType) AcceptsParent(parent NodeType) bool {
	want, ok := t.ParentType()
	return ok && want == parent
}

// IsStation reports whether t is a transmission or distribution substation.
func (t NodeType) IsStation() bool {
	return t == TransmissionSubstation || t == DistributionSubstation
}

// HierarchyRank orders node types so backbone levels are connected before
// the leaves that route through them.
func (t NodeType) HierarchyRank() int {
	switch t {
	case Plant:
		return 0
	case TransmissionSubstation:
		return 1
	case DistributionSubstation:
		return 2
	case Consumer:
		return 3
	default:
		return 4
	}
}

// Status is the presentation state of a node in a tree snapshot.
type Status string

const (
	StatusNormal     Status = "NORMAL"
	StatusWarning    Status = "WARNING"
	StatusOverloaded Status = "OVERLOADED"
	StatusUnsupplied Status = "UNSUPPLIED"
)

// Load ratio thresholds used by status derivation.
const (
	WarningRatio  = 0.8
	OverloadRatio = 1.0
)

// StatusFor derives a status from load and capacity. A nil or non-positive
// capacity is always Normal.
func StatusFor(load float64, capacity *float64, unsupplied bool) Status {
	if unsupplied {
		return StatusUnsupplied
	}
	if capacity == nil || *capacity <= 0 {
		return StatusNormal
	}
	ratio := load / *capacity
	switch {
	case ratio < WarningRatio:
		return StatusNormal
	case ratio <= OverloadRatio:
		return StatusWarning
	default:
		return StatusOverloaded
	}
}
