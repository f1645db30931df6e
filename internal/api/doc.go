// Package api is the user facing client of the runtime. A Client owns the
// snapshot tree, runs the pipeline stages below it in one errgroup and
// advances the tree one rtn_data batch per WaitUpdate call.
//
// Reads (Quote, Klines, Account, Position, Order) return copies taken
// between merges, so they never observe a half applied batch. Requests
// (subscriptions, charts, orders) are sent immediately and answered by a
// later update.
//
// A backtest ends with WaitUpdate returning Finished exactly once; every
// call after that returns ErrClientClosed.
package api
