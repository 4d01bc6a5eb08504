package core

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

const tinyScenario = `{
  "nodes": [
    {"id": "p", "node_type": "GENERATION_PLANT", "position_x": 1, "position_y": 2},
    {"id": "t", "node_type": "transmission_substation", "capacity": 100},
    {"id": "d", "node_type": "DISTRIBUTION_SUBSTATION", "cluster_id": 4, "nominal_voltage": 13800},
    {"id": "c", "node_type": "CONSUMER_POINT", "current_load": 7.5}
  ],
  "edges": [
    {"id": "e1", "edge_type": "TRANSMISSION_SEGMENT", "from_node_id": "p", "to_node_id": "t", "length": 3},
    {"id": "e2", "from_node_id": "t", "to_node_id": "d", "length": 2},
    {"id": "e3", "edge_type": "LV_DISTRIBUTION_SEGMENT", "from_node_id": "d", "to_node_id": "c", "length": 1}
  ]
}`

func TestLoadScenarioPopulatesGraph(t *testing.T) {
	g := kb.NewKnowledgeBase()
	sc, err := LoadScenario(g, strings.NewReader(tinyScenario))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if len(sc.NodeIDs) != 4 || len(sc.EdgeIDs) != 3 {
		t.Fatalf("summary = %+v", sc)
	}
	if sc.ConsumerLoads["c"] != 7.5 || len(sc.ConsumerLoads) != 1 {
		t.Fatalf("consumer loads = %v", sc.ConsumerLoads)
	}

	p := g.GetNode("p")
	if p == nil || p.Type != model.Plant || p.X != 1 || p.Y != 2 {
		t.Fatalf("plant = %+v", p)
	}
	if tn := g.GetNode("t"); tn.Type != model.TransmissionSubstation || tn.Capacity == nil || *tn.Capacity != 100 {
		t.Fatalf("ts = %+v", tn)
	}
	d := g.GetNode("d")
	if d.ClusterID == nil || *d.ClusterID != 4 || d.NominalVoltage == nil || *d.NominalVoltage != 13800 {
		t.Fatalf("ds = %+v", d)
	}
	if e := g.GetEdge("e2"); e.Type != model.EdgeTypeUnknown || e.Length != 2 {
		t.Fatalf("untyped edge = %+v", e)
	}
	if g.Degree("d") != 2 {
		t.Fatalf("degree(d) = %d, want 2", g.Degree("d"))
	}
}

func TestLoadScenarioThenHydrate(t *testing.T) {
	g := kb.NewKnowledgeBase()
	sc, err := LoadScenario(g, strings.NewReader(tinyScenario))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	s := NewRoutingService(g, WithLoadProvider(NewLoadTable(sc.ConsumerLoads)))
	if _, err := s.Hydrate(t.Context()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if got := g.GetNode("p").CurrentLoad; got != 7.5 {
		t.Fatalf("plant load = %v, want 7.5", got)
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"bad node type", `{"nodes":[{"id":"x","node_type":"WINDMILL"}]}`, nil},
		{"duplicate node", `{"nodes":[{"id":"x","node_type":"CONSUMER_POINT"},{"id":"x","node_type":"CONSUMER_POINT"}]}`, kb.ErrNodeExists},
		{"dangling edge", `{"nodes":[{"id":"x","node_type":"CONSUMER_POINT"}],"edges":[{"id":"e","from_node_id":"x","to_node_id":"y"}]}`, kb.ErrNodeNotFound},
		{"bad edge type", `{"nodes":[{"id":"x","node_type":"CONSUMER_POINT"},{"id":"y","node_type":"CONSUMER_POINT"}],"edges":[{"id":"e","edge_type":"HVDC","from_node_id":"x","to_node_id":"y"}]}`, nil},
		{"not json", `nodes:`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(kb.NewKnowledgeBase(), strings.NewReader(tt.in))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := LoadScenario(nil, strings.NewReader(tinyScenario)); err == nil {
		t.Fatalf("expected error for nil graph")
	}
}

func TestLoadScenarioFileSample(t *testing.T) {
	g := kb.NewKnowledgeBase()
	sc, err := LoadScenarioFile(g, filepath.Join("..", "configs", "scenario.json"))
	if err != nil {
		t.Fatalf("LoadScenarioFile: %v", err)
	}
	s := NewRoutingService(g)
	rep, err := s.Hydrate(t.Context())
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if len(rep.Unsupplied) != 0 {
		t.Fatalf("sample scenario leaves unsupplied consumers: %v", rep.Unsupplied)
	}
	total := 0.0
	for _, v := range sc.ConsumerLoads {
		total += v
	}
	if got := g.GetNode("plant-1").CurrentLoad; !approx(got, total) {
		t.Fatalf("plant load = %v, want %v", got, total)
	}
	checkForest(t, s)
	checkLoads(t, s)
}
