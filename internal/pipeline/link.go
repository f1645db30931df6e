// Package pipeline connects runtime stages. Every stage talks to the stage
// below it (closer to the user) through one Link and to each stage above it
// (closer to the server) through another.
//
// Requests travel up, rtn_data travels down. A stage never pushes data down
// without an outstanding peek_message from below.
package pipeline

import (
	"context"

	"github.com/rickgao/tqsdk-go/internal/channel"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Link is the pair of channels between two adjacent stages.
type Link struct {
	// Up carries requests toward the server.
	Up *channel.Chan[protocol.Pack]
	// Down carries rtn_data toward the user.
	Down *channel.Chan[protocol.Pack]
}

// NewLink creates a link with ordered channels.
func NewLink(opts ...channel.Option) Link {
	return Link{
		Up:   channel.New[protocol.Pack](opts...),
		Down: channel.New[protocol.Pack](opts...),
	}
}

// Close closes both directions.
func (l Link) Close() {
	l.Up.Close()
	l.Down.Close()
}

// Stage is one goroutine of the pipeline. Run returns when ctx ends, when
// down.Up is closed by the stage below, or on a fatal error. A stage closes
// down.Down before returning so the stage below observes the end.
type Stage interface {
	Run(ctx context.Context, down Link, ups ...Link) error
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, down Link, ups ...Link) error

// Run calls f.
func (f StageFunc) Run(ctx context.Context, down Link, ups ...Link) error {
	return f(ctx, down, ups...)
}
