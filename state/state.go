package state

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

type SparkModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules map[string]SparkModule
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan func(s *State) error
	Cfg             SparkCfg
	Context         context.Context
	Cancel          context.CancelCauseFunc
	Log             *slog.Logger
	Clock           clock.Clock

	Started  atomic.Bool
	Stopping atomic.Bool
}

func (e *Env) Self() NodeIdentity {
	return NodeIdentity{Domain: e.Cfg.Domain, Node: e.Cfg.Node}
}

// NodeIdentity names a node. Two nodes may pair only when their domains are
// byte-equal.
type NodeIdentity struct {
	Domain string
	Node   string
}
