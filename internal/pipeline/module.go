package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Handler implements the business part of a peek-gated stage. Both methods
// run on the module goroutine, never concurrently.
type Handler interface {
	// HandleReq processes a request from below that is not peek_message.
	HandleReq(ctx context.Context, m *Module, pack protocol.Pack) error
	// HandleRecv processes a pack from upstream number up. Diffs meant for
	// the stage below go to m.Append.
	HandleRecv(ctx context.Context, m *Module, up int, pack protocol.Pack) error
}

// SendDiffHook is implemented by handlers that need to act after every
// send attempt. pendingPeek is the peek state before the attempt.
type SendDiffHook interface {
	OnSendDiff(ctx context.Context, m *Module, pendingPeek bool) error
}

// CloseHook is implemented by handlers that flush state when an upstream
// ends. Diffs appended here are delivered if a peek is pending.
type CloseHook interface {
	OnUpstreamClosed(ctx context.Context, m *Module, up int) error
}

// Module is the peek-gating state of a stage: the diffs waiting for the
// stage below, whether the stage below is waiting for them, and which
// upstreams already have a peek in flight.
type Module struct {
	down          Link
	ups           []Link
	diffs         []map[string]any
	pendingPeek   bool
	upPendingPeek []bool
	draining      bool
	logger        *slog.Logger
}

type event struct {
	from   int // -1 for the stage below
	pack   protocol.Pack
	closed bool
}

const fromDown = -1

// RunModule runs h as a stage between down and ups. It returns nil when the
// stage below goes away or an upstream ends, and h's error otherwise.
func RunModule(ctx context.Context, h Handler, logger *slog.Logger, down Link, ups ...Link) error {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{
		down:          down,
		ups:           ups,
		upPendingPeek: make([]bool, len(ups)),
		logger:        logger,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := channel.New[event]()
	defer inbox.Close()
	go forward(ctx, inbox, fromDown, down.Up)
	for i, up := range ups {
		go forward(ctx, inbox, i, up.Down)
	}

	defer func() {
		down.Down.Close()
		for _, up := range ups {
			up.Up.Close()
		}
	}()

	for {
		ev, err := inbox.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
		err = m.dispatch(ctx, h, ev)
		inbox.Done()
		if errors.Is(err, errStop) || errors.Is(err, channel.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

var errStop = errors.New("stop")

func (m *Module) dispatch(ctx context.Context, h Handler, ev event) error {
	switch {
	case ev.closed && ev.from == fromDown:
		m.logger.Debug("downstream closed")
		return errStop

	case ev.closed:
		m.logger.Debug("upstream closed", "up", ev.from)
		if ch, ok := h.(CloseHook); ok {
			if err := ch.OnUpstreamClosed(ctx, m, ev.from); err != nil {
				return err
			}
		}
		m.draining = true
		if err := m.sendDiff(ctx, h); err != nil {
			return err
		}
		if len(m.diffs) == 0 {
			return errStop
		}
		return nil

	case ev.from == fromDown && ev.pack.Aid() == protocol.AidPeekMessage:
		m.pendingPeek = true
		if err := m.sendDiff(ctx, h); err != nil {
			return err
		}
		// an ended upstream stays open only until its last diffs are taken
		if m.draining {
			if len(m.diffs) == 0 {
				return errStop
			}
			return nil
		}
		if m.pendingPeek {
			for i, pending := range m.upPendingPeek {
				if pending {
					continue
				}
				if err := m.ups[i].Up.Send(protocol.PeekMessage()); err != nil {
					return err
				}
				m.upPendingPeek[i] = true
			}
		}
		return nil

	case ev.from == fromDown:
		if err := h.HandleReq(ctx, m, ev.pack); err != nil {
			return err
		}
		return m.sendDiff(ctx, h)

	default:
		if ev.pack.Aid() == protocol.AidRtnData {
			m.upPendingPeek[ev.from] = false
		}
		if err := h.HandleRecv(ctx, m, ev.from, ev.pack); err != nil {
			return err
		}
		return m.sendDiff(ctx, h)
	}
}

func (m *Module) sendDiff(ctx context.Context, h Handler) error {
	pk := m.pendingPeek
	if m.pendingPeek && len(m.diffs) > 0 {
		pack := protocol.RtnData(m.diffs)
		m.diffs = nil
		m.pendingPeek = false
		if err := m.down.Down.Send(pack); err != nil {
			return err
		}
	}
	if hook, ok := h.(SendDiffHook); ok {
		return hook.OnSendDiff(ctx, m, pk)
	}
	return nil
}

func forward(ctx context.Context, inbox *channel.Chan[event], from int, src *channel.Chan[protocol.Pack]) {
	for {
		pack, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				_ = inbox.Send(event{from: from, closed: true})
			}
			return
		}
		src.Done()
		if inbox.Send(event{from: from, pack: pack}) != nil {
			return
		}
	}
}

// Append queues diffs for the stage below.
func (m *Module) Append(diffs ...map[string]any) {
	m.diffs = append(m.diffs, diffs...)
}

// Pending returns the number of queued diffs.
func (m *Module) Pending() int {
	return len(m.diffs)
}

// PendingPeek reports whether the stage below is waiting for data.
func (m *Module) PendingPeek() bool {
	return m.pendingPeek
}

// SendUp sends a request to upstream number i.
func (m *Module) SendUp(i int, pack protocol.Pack) error {
	return m.ups[i].Up.Send(pack)
}

// Upstreams returns the number of upstream links.
func (m *Module) Upstreams() int {
	return len(m.ups)
}

// Logger returns the module logger.
func (m *Module) Logger() *slog.Logger {
	return m.logger
}
