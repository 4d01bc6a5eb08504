package model

import (
	"encoding/json"
	"testing"
)

func TestParentTypeTable(t *testing.T) {
	cases := []struct {
		child  NodeType
		parent NodeType
		ok     bool
	}{
		{Consumer, DistributionSubstation, true},
		{DistributionSubstation, TransmissionSubstation, true},
		{TransmissionSubstation, Plant, true},
		{Plant, NodeTypeUnknown, false},
		{NodeTypeUnknown, NodeTypeUnknown, false},
	}
	for _, tc := range cases {
		got, ok := tc.child.ParentType()
		if ok != tc.ok || got != tc.parent {
			t.Fatalf("%v.ParentType() = (%v, %v), want (%v, %v)", tc.child, got, ok, tc.parent, tc.ok)
		}
	}
	if Consumer.AcceptsParent(TransmissionSubstation) {
		t.Fatalf("consumer must not accept a transmission substation parent")
	}
	if !DistributionSubstation.AcceptsParent(TransmissionSubstation) {
		t.Fatalf("distribution substation must accept a transmission substation parent")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name       string
		load       float64
		capacity   *float64
		unsupplied bool
		want       Status
	}{
		{"no capacity", 500, nil, false, StatusNormal},
		{"zero capacity", 5, Float64(0), false, StatusNormal},
		{"below warning", 79, Float64(100), false, StatusNormal},
		{"warning lower bound", 80, Float64(100), false, StatusWarning},
		{"at capacity", 100, Float64(100), false, StatusWarning},
		{"overloaded", 100.5, Float64(100), false, StatusOverloaded},
		{"unsupplied wins", 10, Float64(100), true, StatusUnsupplied},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.load, tc.capacity, tc.unsupplied); got != tc.want {
			t.Fatalf("%s: StatusFor = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestNodeTypeJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Type NodeType `json:"type"`
	}
	var w wrapper
	if err := json.Unmarshal([]byte(`{"type":"distribution_substation"}`), &w); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if w.Type != DistributionSubstation {
		t.Fatalf("Type = %v, want DistributionSubstation", w.Type)
	}
	if err := json.Unmarshal([]byte(`{"type":"WIND_FARM"}`), &w); err == nil {
		t.Fatalf("expected unknown node type to fail")
	}
}

func TestNodeCloneIsDeep(t *testing.T) {
	n := &Node{ID: "ds-1", Type: DistributionSubstation, Capacity: Float64(50)}
	cp := n.Clone()
	*cp.Capacity = 10
	if *n.Capacity != 50 {
		t.Fatalf("clone shares capacity pointer with original")
	}
}
