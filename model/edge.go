package model

import (
	"fmt"
	"strings"
)

// EdgeType is the voltage class of a physical segment.
type EdgeType int

const (
	EdgeTypeUnknown EdgeType = iota
	TransmissionSegment
	MVDistributionSegment
	LVDistributionSegment
)

var edgeTypeNames = map[EdgeType]string{
	TransmissionSegment:   "TRANSMISSION_SEGMENT",
	MVDistributionSegment: "MV_DISTRIBUTION_SEGMENT",
	LVDistributionSegment: "LV_DISTRIBUTION_SEGMENT",
}

func (t EdgeType) String() string {
	if name, ok := edgeTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

func ParseEdgeType(s string) (EdgeType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range edgeTypeNames {
		if name == want {
			return t, nil
		}
	}
	return EdgeTypeUnknown, fmt.Errorf("unknown edge type %q", s)
}

func (t EdgeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EdgeType) UnmarshalText(b []byte) error {
	parsed, err := ParseEdgeType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Edge is an undirected physical segment between two nodes.
type Edge struct {
	ID     string
	Type   EdgeType
	From   string
	To     string
	Length float64
}

// Other returns the endpoint opposite to id, or "" if id is not an endpoint.
func (e *Edge) Other(id string) string {
	switch id {
	case e.From:
		return e.To
	case e.To:
		return e.From
	default:
		return ""
	}
}
