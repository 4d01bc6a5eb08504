package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/internal/sim/state"
	"github.com/signalsfoundry/grid-hierarchy/kb"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, core.ErrNodeNotFound),
		errors.Is(err, kb.ErrEdgeNotFound):
		return http.StatusNotFound

	case errors.Is(err, errBadRequest),
		errors.Is(err, kb.ErrNodeInvalid),
		errors.Is(err, kb.ErrEdgeInvalid),
		errors.Is(err, core.ErrInvalidCapacity),
		errors.Is(err, core.ErrEmptyID),
		errors.Is(err, core.ErrSelfParent),
		errors.Is(err, state.ErrInvalidLoad):
		return http.StatusBadRequest

	case errors.Is(err, core.ErrIncompatibleType),
		errors.Is(err, core.ErrNotStation):
		return http.StatusUnprocessableEntity

	case errors.Is(err, kb.ErrNodeExists),
		errors.Is(err, kb.ErrEdgeExists),
		errors.Is(err, core.ErrInsufficientCapacity),
		errors.Is(err, core.ErrNoRouteFound),
		errors.Is(err, core.ErrCycle):
		return http.StatusConflict

	case errors.Is(err, state.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
