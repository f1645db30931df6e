package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Chain starts stages on g, stages[0] serving down and every later stage
// serving the one before it. The last stage runs with no upstream.
func Chain(ctx context.Context, g *errgroup.Group, down Link, stages ...Stage) {
	cur := down
	for i, s := range stages {
		s, below := s, cur
		if i == len(stages)-1 {
			g.Go(func() error { return s.Run(ctx, below) })
			return
		}
		up := NewLink()
		g.Go(func() error { return s.Run(ctx, below, up) })
		cur = up
	}
}
