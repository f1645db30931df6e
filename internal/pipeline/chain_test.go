package pipeline

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tqsdk-go/internal/protocol"
)

func TestChain(t *testing.T) {
	var topUps int
	middle := StageFunc(func(ctx context.Context, down Link, ups ...Link) error {
		return RunModule(ctx, &relay{}, nil, down, ups...)
	})
	top := StageFunc(func(ctx context.Context, down Link, ups ...Link) error {
		topUps = len(ups)
		defer down.Down.Close()
		for {
			p, err := down.Up.Recv(ctx)
			if err != nil {
				return nil
			}
			down.Up.Done()
			if p.Aid() == protocol.AidPeekMessage {
				_ = down.Down.Send(protocol.RtnData([]map[string]any{{"top": true}}))
			}
		}
	})

	g, ctx := errgroup.WithContext(context.Background())
	down := NewLink()
	Chain(ctx, g, down, middle, top)

	down.Up.Send(protocol.PeekMessage())
	got := recvWithin(t, down.Down)
	if data := got.Data(); len(data) != 1 || data[0]["top"] != true {
		t.Fatalf("got %v through the chain", got)
	}

	down.Up.Close()
	waited := make(chan error, 1)
	go func() { waited <- g.Wait() }()
	select {
	case err := <-waited:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chain did not stop")
	}
	if topUps != 0 {
		t.Errorf("top stage got %d upstreams", topUps)
	}
}
