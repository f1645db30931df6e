// Package router joins several upstream chains under one stage. Requests
// go to the chain that serves their aid; data from every chain is merged
// into one downstream stream under the usual peek gating.
//
// In live mode this is how the market data session and the trading
// session share a client: subscriptions and charts go to one, orders and
// logins to the other.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Router is a pipeline stage with one upstream chain per route.
type Router struct {
	routes   []Route
	byAid    map[string]int
	fallback int
	logger   *slog.Logger

	mu       sync.Mutex
	routed   []int64
	received []int64
	dropped  int64
}

// New validates routes and creates a router.
func New(routes []Route, logger *slog.Logger) (*Router, error) {
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		routes:   routes,
		byAid:    make(map[string]int),
		fallback: -1,
		logger:   logger.With("component", "router"),
		routed:   make([]int64, len(routes)),
		received: make([]int64, len(routes)),
	}
	for i, rt := range routes {
		if len(rt.Stages) == 0 {
			return nil, fmt.Errorf("router: route %q has no stages", rt.Name)
		}
		if len(rt.Aids) == 0 {
			if r.fallback >= 0 {
				return nil, ErrTwoDefaults
			}
			r.fallback = i
			continue
		}
		for _, aid := range rt.Aids {
			if _, dup := r.byAid[aid]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateAid, aid)
			}
			r.byAid[aid] = i
		}
	}
	return r, nil
}

// Run starts every route's chain and serves down until it goes away or a
// chain fails.
func (r *Router) Run(ctx context.Context, down pipeline.Link, _ ...pipeline.Link) error {
	g, gctx := errgroup.WithContext(ctx)
	ups := make([]pipeline.Link, len(r.routes))
	for i, rt := range r.routes {
		ups[i] = pipeline.NewLink()
		pipeline.Chain(gctx, g, ups[i], rt.Stages...)
	}

	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.Name
	}
	r.logger.Info("router started", "routes", names)

	g.Go(func() error {
		return pipeline.RunModule(gctx, r, r.logger, down, ups...)
	})
	err := g.Wait()
	r.logger.Info("router stopped", "error", err)
	return err
}

// HandleReq implements pipeline.Handler.
func (r *Router) HandleReq(_ context.Context, m *pipeline.Module, pack protocol.Pack) error {
	i, ok := r.byAid[pack.Aid()]
	if !ok {
		i = r.fallback
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 {
		r.dropped++
		r.logger.Warn("no route for request", "aid", pack.Aid())
		return nil
	}
	r.routed[i]++
	return m.SendUp(i, pack)
}

// HandleRecv implements pipeline.Handler.
func (r *Router) HandleRecv(_ context.Context, m *pipeline.Module, up int, pack protocol.Pack) error {
	if pack.Aid() != protocol.AidRtnData {
		r.logger.Debug("ignoring upstream pack", "route", r.routes[up].Name, "aid", pack.Aid())
		return nil
	}
	r.mu.Lock()
	r.received[up]++
	r.mu.Unlock()
	m.Append(pack.Data()...)
	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Routed:   make(map[string]int64, len(r.routes)),
		Received: make(map[string]int64, len(r.routes)),
		Dropped:  r.dropped,
	}
	for i, rt := range r.routes {
		s.Routed[rt.Name] = r.routed[i]
		s.Received[rt.Name] = r.received[i]
	}
	return s
}
