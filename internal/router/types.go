package router

import (
	"errors"

	"github.com/rickgao/tqsdk-go/internal/pipeline"
	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// Errors
var (
	ErrNoRoutes     = errors.New("router: at least one route is required")
	ErrDuplicateAid = errors.New("router: aid claimed by two routes")
	ErrTwoDefaults  = errors.New("router: more than one default route")
)

// Route is one upstream chain and the request kinds it serves. A route
// with no Aids is the default and takes every unclaimed request.
type Route struct {
	Name   string
	Aids   []string
	Stages []pipeline.Stage
}

// TradeAids are the requests a trading server answers.
var TradeAids = []string{
	protocol.AidReqLogin,
	protocol.AidConfirmSettlement,
	protocol.AidInsertOrder,
	protocol.AidCancelOrder,
}

// Stats contains runtime statistics.
type Stats struct {
	// Routed counts requests sent up, by route name.
	Routed map[string]int64
	// Received counts rtn_data packs received, by route name.
	Received map[string]int64
	// Dropped counts requests with no route.
	Dropped int64
}
