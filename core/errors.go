package core

import (
	"errors"

	"github.com/signalsfoundry/grid-hierarchy/kb"
)

// Routing failures. None of them is fatal; every operation that reports one
// leaves the forest exactly as it was.
var (
	// ErrNodeNotFound is the kb sentinel so errors.Is works across layers.
	ErrNodeNotFound         = kb.ErrNodeNotFound
	ErrNoRouteFound         = errors.New("no compatible parent found via routing")
	ErrInsufficientCapacity = errors.New("new parent has insufficient capacity")
	ErrIncompatibleType     = errors.New("incompatible parent type")
	ErrNotStation           = errors.New("node is not a transmission or distribution substation")
	ErrInvalidCapacity      = errors.New("capacity must be a non-negative number")
)

// Forest structural errors.
var (
	ErrSelfParent = errors.New("node cannot be its own parent")
	ErrCycle      = errors.New("parent is a descendant of the node")
	ErrEmptyID    = errors.New("empty node id")
)
