package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/logging"
	"github.com/signalsfoundry/grid-hierarchy/internal/render"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

type handler struct {
	state *state.ScenarioState
	log   logging.Logger
}

func (h *handler) logger(r *http.Request) logging.Logger {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger(r).Error(r.Context(), "request failed", logging.Err(err))
	} else {
		h.logger(r).Debug(r.Context(), "request rejected", logging.Err(err), logging.Int("status", status))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON body into v. An empty body is allowed when optional
// is set.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

// GET /api/v1/tree
func (h *handler) tree(w http.ResponseWriter, r *http.Request) {
	snap, err := h.state.Tree(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/v1/tree.dot
func (h *handler) treeDOT(w http.ResponseWriter, r *http.Request) {
	snap, err := h.state.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	_, _ = io.WriteString(w, render.ToDOT(snap, render.Options{Detailed: detailed}))
}

// GET /api/v1/logs
func (h *handler) logs(w http.ResponseWriter, r *http.Request) {
	events, err := h.state.DrainEvents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilEvents(events))
}

// POST /api/v1/health-check
func (h *handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	rep, err := h.state.CheckSystemHealth(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHealthResponse(rep))
}

// POST /api/v1/nodes
func (h *handler) attach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	node, edges, err := req.toModel()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.state.Attach(r.Context(), node, edges)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// The node exists even when no supplier was found.
	writeJSON(w, http.StatusCreated, newRoutingResponse(res))
}

// GET /api/v1/nodes?type=DISTRIBUTION_SUBSTATION
func (h *handler) listNodes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		h.writeError(w, r, fmt.Errorf("%w: type query parameter is required", errBadRequest))
		return
	}
	typ, err := model.ParseNodeType(raw)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	nodes, err := h.state.NodesOfType(r.Context(), typ)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newNodeResponses(nodes))
}

// GET /api/v1/nodes/{id}/neighbors
func (h *handler) neighbors(w http.ResponseWriter, r *http.Request) {
	adj, err := h.state.Neighbors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, neighborsResponse{
		NodeID:    adj.NodeID,
		Type:      adj.Type,
		Degree:    adj.Degree,
		Neighbors: nonNil(adj.Neighbors),
	})
}

// DELETE /api/v1/nodes/{id}
func (h *handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	del, err := h.state.DeleteNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeletionResponse(del))
}

// POST /api/v1/nodes/{id}/reroute
func (h *handler) reroute(w http.ResponseWriter, r *http.Request) {
	res, err := h.state.RerouteStation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletionResponse{
		NodeID:     res.StationID,
		Rerouted:   newRoutingResponses(res.Rerouted),
		Unsupplied: nonNil(res.Unsupplied),
		Events:     nonNilEvents(res.Events),
	})
}

// PUT /api/v1/nodes/{id}/parent
func (h *handler) forceParent(w http.ResponseWriter, r *http.Request) {
	var req parentRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.state.ForceAttach(r.Context(), chi.URLParam(r, "id"), req.ParentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Err)
	}
	writeJSON(w, status, newRoutingResponse(res))
}

// PUT /api/v1/nodes/{id}/capacity
func (h *handler) setCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	rep, err := h.state.SetCapacity(r.Context(), chi.URLParam(r, "id"), req.Capacity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverloadResponse(rep))
}

// POST /api/v1/nodes/{id}/overload forces an overload of the given percent,
// or handles an existing one when no body is sent.
func (h *handler) overload(w http.ResponseWriter, r *http.Request) {
	var req overloadRequest
	if err := decode(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")

	var (
		rep core.OverloadReport
		err error
	)
	if req.Percent != nil {
		rep, err = h.state.ForceOverload(r.Context(), id, *req.Percent/100)
	} else {
		rep, err = h.state.HandleOverload(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverloadResponse(rep))
}

// PUT /api/v1/nodes/{id}/load
func (h *handler) setLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decode(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Load == nil {
		h.writeError(w, r, fmt.Errorf("%w: load is required", errBadRequest))
		return
	}
	upd, err := h.state.SetLoad(r.Context(), chi.URLParam(r, "id"), *req.Load)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{NodeID: upd.NodeID, Load: upd.Load, Events: nonNilEvents(upd.Events)})
}
