package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Session is the top pipeline stage for one server. It keeps a websocket
// open, reconnecting after every failure, and reports transport events as
// notify diffs in the same stream it delivers server data on.
type Session struct {
	cfg       SessionConfig
	timer     *ReconnectTimer
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	subscribeTimes []time.Time
}

// errDownClosed means the stage below is gone.
var errDownClosed = errors.New("downstream closed")

// NewSession creates a session. A nil timer uses SharedTimer.
func NewSession(cfg SessionConfig, timer *ReconnectTimer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if timer == nil {
		timer = SharedTimer()
	}
	if cfg.ConnID == "" {
		cfg.ConnID = protocol.NewID("")
	}
	return &Session{
		cfg:       cfg,
		timer:     timer,
		logger:    logger.With("component", "connection", "conn_id", cfg.ConnID, "url", cfg.Client.URL),
		newClient: NewClient,
	}
}

// ConnID returns the session id used in notifies.
func (s *Session) ConnID() string {
	return s.cfg.ConnID
}

// Run connects and serves until ctx ends or the stage below closes its
// request channel. Only ErrPermissionDenied ends it with an error.
func (s *Session) Run(ctx context.Context, down pipeline.Link, _ ...pipeline.Link) error {
	defer down.Down.Close()

	first := true
	count := 0
	for {
		if !first {
			s.logger.Debug("websocket connection connecting")
			if err := s.notify(down, "WARNING", protocol.CodeReconnecting, contentReconnecting); err != nil {
				return nil
			}
		}

		c := s.newClient(s.cfg.Client, s.logger)
		err := c.Connect(ctx)
		if err == nil {
			code, level, content := protocol.CodeConnected, "INFO", contentConnected
			if !first {
				code, level, content = protocol.CodeReconnected, "WARNING", contentReconnected
				s.logger.Info("websocket reconnected")
				s.cfg.Metrics.ConnEvent(s.cfg.ConnID, "reconnected")
			} else {
				s.logger.Info("websocket connected")
				s.cfg.Metrics.ConnEvent(s.cfg.ConnID, "connected")
			}
			if err := s.notify(down, level, code, content); err != nil {
				c.Close()
				return nil
			}
			count = 0
			s.timer.SetCount(count)
			err = s.serve(ctx, c, down)
			c.Close()
		}

		if ctx.Err() != nil || errors.Is(err, errDownClosed) {
			return nil
		}

		s.logger.Warn("websocket connection closed", "error", err)
		s.cfg.Metrics.ConnEvent(s.cfg.ConnID, "disconnected")
		if nerr := s.notify(down, "WARNING", protocol.CodeDisconnected, contentDisconnected); nerr != nil {
			return nil
		}
		if errors.Is(err, ErrPermissionDenied) {
			s.logger.Error("session refused by server", "error", err)
			return err
		}

		first = false
		if err := s.timer.Wait(ctx); err != nil {
			return nil
		}
		count++
		s.timer.SetCount(count)
	}
}

// serve pumps both directions until the connection fails or either side
// goes away. The send goroutine has exited when serve returns.
func (s *Session) serve(ctx context.Context, c Client, down pipeline.Link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- s.sendLoop(ctx, c, down.Up)
	}()

	sendDone, err := s.recvLoop(ctx, c, down, sendErr)
	cancel()
	if !sendDone {
		<-sendErr
	}
	return err
}

func (s *Session) recvLoop(ctx context.Context, c Client, down pipeline.Link, sendErr <-chan error) (sendDone bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case err := <-sendErr:
			return true, err
		case err := <-c.Errors():
			return false, err
		case msg := <-c.Messages():
			pack, err := protocol.Decode(msg.Data)
			if err != nil {
				s.logger.Warn("dropping undecodable message", "error", err)
				continue
			}
			s.logger.Debug("websocket received data", "aid", pack.Aid(), "bytes", len(msg.Data))
			if err := down.Down.Send(pack); err != nil {
				return false, errDownClosed
			}
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, c Client, up *channel.Chan[protocol.Pack]) error {
	for {
		pack, err := up.Recv(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return errDownClosed
			}
			return err
		}
		up.Done()
		if pack.Aid() == protocol.AidSubscribeQuote {
			s.checkSubscribe(pack)
		}
		data, err := protocol.Encode(pack)
		if err != nil {
			s.logger.Warn("dropping unencodable request", "error", err)
			continue
		}
		if err := c.Send(data); err != nil {
			return fmt.Errorf("send %s: %w", pack.Aid(), err)
		}
		s.logger.Debug("websocket send data", "aid", pack.Aid(), "bytes", len(data))
	}
}

// checkSubscribe warns about subscriptions the server is likely to throttle.
func (s *Session) checkSubscribe(pack protocol.Pack) {
	if n := len(pack.Str("ins_list")); n > maxInsListLength {
		s.logger.Warn("subscription list is long and may be limited by the server", "length", n)
	}
	now := time.Now()
	s.subscribeTimes = append(s.subscribeTimes, now)
	if len(s.subscribeTimes) > subscribesPerSecond {
		oldest := s.subscribeTimes[0]
		s.subscribeTimes = s.subscribeTimes[1:]
		if now.Sub(oldest) < time.Second {
			s.logger.Warn("more than 100 subscribe_quote requests within 1s", "per_second", subscribesPerSecond)
		}
	}
}

func (s *Session) notify(down pipeline.Link, level string, code int, content string) error {
	return down.Down.Send(protocol.NotifyPack(protocol.Notify{
		Level:   level,
		Code:    code,
		ConnID:  s.cfg.ConnID,
		Content: fmt.Sprintf(content, s.cfg.Client.URL),
		URL:     s.cfg.Client.URL,
	}))
}
