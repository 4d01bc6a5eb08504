// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/grid-hierarchy/kb"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// Scenario is a small summary of what was loaded from JSON.
type Scenario struct {
	NodeIDs []string
	EdgeIDs []string

	// ConsumerLoads holds the current_load of every consumer in the file,
	// ready to seed a LoadTable.
	ConsumerLoads map[string]float64
}

// internal JSON shapes; the column names follow the exported node and edge
// tables.
type scenarioJSON struct {
	Nodes []nodeJSON `json:"nodes"`
	Edges []edgeJSON `json:"edges"`
}

type nodeJSON struct {
	ID             string         `json:"id"`
	Type           model.NodeType `json:"node_type"`
	X              float64        `json:"position_x"`
	Y              float64        `json:"position_y"`
	ClusterID      *int           `json:"cluster_id"`
	NominalVoltage *float64       `json:"nominal_voltage"`
	Capacity       *float64       `json:"capacity"`
	CurrentLoad    *float64       `json:"current_load"`
}

type edgeJSON struct {
	ID     string   `json:"id"`
	Type   string   `json:"edge_type"` // optional
	From   string   `json:"from_node_id"`
	To     string   `json:"to_node_id"`
	Length *float64 `json:"length"` // straight line between the endpoints when omitted
}

// LoadScenario decodes a JSON topology from r into graph. Nodes are added
// before edges so edge endpoints resolve. The first structural error from
// the graph aborts the load; nodes added before it stay in the graph.
func LoadScenario(graph *kb.KnowledgeBase, r io.Reader) (*Scenario, error) {
	if graph == nil {
		return nil, fmt.Errorf("LoadScenario: graph is nil")
	}

	var payload scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{
		NodeIDs:       make([]string, 0, len(payload.Nodes)),
		EdgeIDs:       make([]string, 0, len(payload.Edges)),
		ConsumerLoads: make(map[string]float64),
	}

	for _, jn := range payload.Nodes {
		n := &model.Node{
			ID:             jn.ID,
			Type:           jn.Type,
			X:              jn.X,
			Y:              jn.Y,
			ClusterID:      jn.ClusterID,
			NominalVoltage: jn.NominalVoltage,
			Capacity:       jn.Capacity,
		}
		if jn.CurrentLoad != nil {
			n.CurrentLoad = *jn.CurrentLoad
		}
		if err := graph.AddNode(n); err != nil {
			return nil, fmt.Errorf("LoadScenario: node %q: %w", jn.ID, err)
		}
		if n.Type == model.Consumer {
			result.ConsumerLoads[n.ID] = n.CurrentLoad
		}
		result.NodeIDs = append(result.NodeIDs, n.ID)
	}

	for _, je := range payload.Edges {
		et := model.EdgeTypeUnknown
		if je.Type != "" {
			parsed, err := model.ParseEdgeType(je.Type)
			if err != nil {
				return nil, fmt.Errorf("LoadScenario: edge %q: %w", je.ID, err)
			}
			et = parsed
		}
		var length float64
		if je.Length != nil {
			length = *je.Length
		} else {
			length = straightLineLength(graph.GetNode(je.From), graph.GetNode(je.To))
		}
		e := &model.Edge{ID: je.ID, Type: et, From: je.From, To: je.To, Length: length}
		if err := graph.AddEdge(e); err != nil {
			return nil, fmt.Errorf("LoadScenario: edge %q: %w", je.ID, err)
		}
		result.EdgeIDs = append(result.EdgeIDs, e.ID)
	}

	return result, nil
}

// LoadScenarioFile opens path and calls LoadScenario.
func LoadScenarioFile(graph *kb.KnowledgeBase, path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return LoadScenario(graph, f)
}
