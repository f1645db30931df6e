// Package resync sits between a connection session and its consumer and
// hides reconnections from the consumer.
//
// While READY every pack goes through unchanged and the requests needed to
// rebuild the session are recorded. A reconnected notify switches the
// handler to WAIT_FOR_COMPLETED: the recorded requests are resent, upstream
// packs are held back and merged into a private shadow tree, and only once
// the Policy judges the shadow complete is everything held back delivered
// as one rtn_data.
package resync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/diff"
	"github.com/rickgao/tqsdk-go/internal/metrics"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Handler states.
const (
	StateReady            = "READY"
	StateWaitForCompleted = "WAIT_FOR_COMPLETED"
)

// Policy decides what a channel must resend and when its snapshot is whole
// again. RecordRequest is called under the handler lock; RecordData and
// Complete run on the receive goroutine.
type Policy interface {
	// Name identifies the policy in logs and metrics.
	Name() string
	// RecordRequest stores pack in resend if it must be replayed.
	RecordRequest(pack protocol.Pack, resend *Requests)
	// RecordData observes every upstream pack before it is handled.
	RecordData(pack protocol.Pack)
	// Complete reports whether shadow is a complete snapshot. Extra diffs
	// returned with true are delivered after the held back ones.
	Complete(shadow *diff.Node, resend *Requests) (bool, []map[string]any)
}

// Handler is the resync pipeline stage.
type Handler struct {
	policy  Policy
	proto   *diff.Prototype
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu     sync.Mutex
	resend *Requests

	waiting atomic.Bool
	pending []map[string]any
	shadow  *diff.Node
	since   time.Time
}

// New creates a handler. proto is the prototype of the consumer's tree; the
// shadow is merged with it so completeness checks see the same defaults.
func New(policy Policy, proto *diff.Prototype, m *metrics.Collectors, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		policy:  policy,
		proto:   proto,
		logger:  logger.With("component", "resync", "handler", policy.Name()),
		metrics: m,
		resend:  NewRequests(),
	}
}

// State returns StateReady or StateWaitForCompleted.
func (h *Handler) State() string {
	if h.waiting.Load() {
		return StateWaitForCompleted
	}
	return StateReady
}

// Resend returns the requests currently recorded for replay.
func (h *Handler) Resend() []protocol.Pack {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resend.Packs()
}

// Run forwards between down and ups[0], the connection session.
func (h *Handler) Run(ctx context.Context, down pipeline.Link, ups ...pipeline.Link) error {
	if len(ups) != 1 {
		return errors.New("resync: exactly one upstream required")
	}
	up := ups[0]
	defer down.Down.Close()

	ctx, cancel := context.WithCancel(ctx)
	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		h.sendLoop(ctx, down.Up, up.Up)
	}()
	defer func() { <-sendDone }()
	defer cancel()

	for {
		pack, err := up.Down.Recv(ctx)
		if err != nil {
			return nil
		}
		up.Down.Done()
		if err := h.handleUpstream(pack, down, up); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (h *Handler) sendLoop(ctx context.Context, from, to *channel.Chan[protocol.Pack]) {
	defer to.Close()
	for {
		pack, err := from.Recv(ctx)
		if err != nil {
			return
		}
		from.Done()
		h.mu.Lock()
		h.policy.RecordRequest(pack, h.resend)
		err = to.Send(pack)
		h.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *Handler) handleUpstream(pack protocol.Pack, down, up pipeline.Link) error {
	h.policy.RecordData(pack)
	data := pack.Data()

	if h.waiting.Load() {
		h.pending = append(h.pending, data...)
		// a drop while waiting starts the snapshot over on the new connection
		if at := reconnectAt(data); at >= 0 {
			h.logger.Warn("reconnected again while waiting for complete snapshot")
			return h.restart(up, data[at:])
		}
		for _, d := range data {
			diff.Merge(h.shadow, d, h.proto, diff.Options{})
		}
		h.mu.Lock()
		done, extra := h.policy.Complete(h.shadow, h.resend)
		h.mu.Unlock()
		if !done {
			h.metrics.ResyncPending(h.policy.Name(), len(h.pending))
			h.logger.Debug("wait for data completed", "pending", len(h.pending))
			return up.Up.Send(protocol.PeekMessage())
		}
		flush := append(h.pending, extra...)
		h.pending = nil
		h.shadow = nil
		h.waiting.Store(false)
		h.metrics.ResyncDone(h.policy.Name(), time.Since(h.since))
		h.logger.Info("data completed", "diffs", len(flush), "waited", time.Since(h.since))
		return down.Down.Send(protocol.RtnData(flush))
	}

	at := reconnectAt(data)
	if at < 0 {
		return down.Down.Send(pack)
	}

	// diffs before the reconnect belong to the old session and go down now
	if at > 0 {
		if err := down.Down.Send(protocol.RtnData(data[:at])); err != nil {
			return err
		}
	}
	h.waiting.Store(true)
	h.since = time.Now()
	h.pending = append([]map[string]any(nil), data[at:]...)
	return h.restart(up, data[at:])
}

// restart rebuilds the shadow from the first diffs of a new connection and
// replays the recorded requests on it.
func (h *Handler) restart(up pipeline.Link, fresh []map[string]any) error {
	h.shadow = diff.NewRoot()
	for _, d := range fresh {
		diff.Merge(h.shadow, d, h.proto, diff.Options{})
	}

	h.mu.Lock()
	resend := h.resend.Packs()
	for _, p := range resend {
		if err := up.Up.Send(p); err != nil {
			h.mu.Unlock()
			return err
		}
	}
	h.mu.Unlock()
	h.logger.Info("reconnected, waiting for complete snapshot", "resend", len(resend))
	return up.Up.Send(protocol.PeekMessage())
}

func reconnectAt(data []map[string]any) int {
	for i, d := range data {
		if protocol.HasNotify(d, protocol.CodeReconnected) {
			return i
		}
	}
	return -1
}
