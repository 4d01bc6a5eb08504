package model

import (
	"fmt"
	"strings"
)

// NodeType classifies a physical grid asset.
type NodeType int

const (
	NodeTypeUnknown NodeType = iota
	Plant
	TransmissionSubstation
	DistributionSubstation
	Consumer
)

var nodeTypeNames = map[NodeType]string{
	Plant:                  "GENERATION_PLANT",
	TransmissionSubstation: "TRANSMISSION_SUBSTATION",
	DistributionSubstation: "DISTRIBUTION_SUBSTATION",
	Consumer:               "CONSUMER_POINT",
}

func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseNodeType accepts the upper-case wire names ("GENERATION_PLANT", ...)
// case-insensitively.
func ParseNodeType(s string) (NodeType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range nodeTypeNames {
		if name == want {
			return t, nil
		}
	}
	return NodeTypeUnknown, fmt.Errorf("unknown node type %q", s)
}

func (t NodeType) MarshalText() ([]byte, error) {
	if _, ok := nodeTypeNames[t]; !ok {
		return nil, fmt.Errorf("cannot marshal node type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *NodeType) UnmarshalText(b []byte) error {
	parsed, err := ParseNodeType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Node is a physical asset in the grid. Capacity is nil when the node has
// no declared limit.
type Node struct {
	ID   string
	Type NodeType

	X float64
	Y float64

	ClusterID      *int
	NominalVoltage *float64
	Capacity       *float64

	CurrentLoad float64
}

// HasCapacity reports whether the node declares a finite capacity.
func (n *Node) HasCapacity() bool {
	return n != nil && n.Capacity != nil
}

// SetCapacity replaces the declared capacity; a nil value removes the limit.
func (n *Node) SetCapacity(c *float64) {
	if c == nil {
		n.Capacity = nil
		return
	}
	v := *c
	n.Capacity = &v
}

// Overloaded reports whether load strictly exceeds a declared capacity.
func (n *Node) Overloaded() bool {
	return n.HasCapacity() && n.CurrentLoad > *n.Capacity
}

// Clone returns a deep copy so callers can hand nodes across goroutines.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.ClusterID != nil {
		v := *n.ClusterID
		cp.ClusterID = &v
	}
	if n.NominalVoltage != nil {
		v := *n.NominalVoltage
		cp.NominalVoltage = &v
	}
	if n.Capacity != nil {
		v := *n.Capacity
		cp.Capacity = &v
	}
	return &cp
}

// Float64 is a small helper for populating optional numeric fields.
func Float64(v float64) *float64 { return &v }
