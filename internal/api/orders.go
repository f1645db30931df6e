package api

import (
	"fmt"
	"math"

	"github.com/rickgao/tqsdk-go/internal/protocol"
)

// InsertOrder places an order and returns its id. A limitPrice that is NaN
// or not positive places a market order, which is immediate-or-cancel.
// The order shows up in the tree with a later update.
func (c *Client) InsertOrder(symbol, direction, offset string, volume int64, limitPrice float64) (string, error) {
	exchange, instrument, ok := splitSymbol(symbol)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	if direction != DirectionBuy && direction != DirectionSell {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidOrder, direction)
	}
	if offset != OffsetOpen && offset != OffsetClose && offset != OffsetCloseToday {
		return "", fmt.Errorf("%w: offset %q", ErrInvalidOrder, offset)
	}
	if volume <= 0 {
		return "", fmt.Errorf("%w: volume %d", ErrInvalidOrder, volume)
	}

	id := protocol.NewID("PYSDK_insert")
	p := protocol.Pack{
		"aid":              protocol.AidInsertOrder,
		"user_id":          c.account,
		"order_id":         id,
		"exchange_id":      exchange,
		"instrument_id":    instrument,
		"direction":        direction,
		"offset":           offset,
		"volume":           volume,
		"volume_condition": "ANY",
	}
	if math.IsNaN(limitPrice) || limitPrice <= 0 {
		p["price_type"] = "ANY"
		p["time_condition"] = "IOC"
	} else {
		p["price_type"] = "LIMIT"
		p["limit_price"] = limitPrice
		p["time_condition"] = "GFD"
	}
	if err := c.send(p); err != nil {
		return "", err
	}
	c.logger.Debug("order sent", "order_id", id, "symbol", symbol, "direction", direction,
		"offset", offset, "volume", volume, "limit_price", limitPrice)
	return id, nil
}

// CancelOrder asks for an alive order to be cancelled.
func (c *Client) CancelOrder(orderID string) error {
	return c.send(protocol.Pack{
		"aid":      protocol.AidCancelOrder,
		"user_id":  c.account,
		"order_id": orderID,
	})
}

// AccountInfo returns the CNY ledger of the client's account.
func (c *Client) AccountInfo() Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return accountFrom(c.data.Lookup("trade", c.account, "accounts", "CNY"))
}

// Position returns the position of symbol, zero when none.
func (c *Client) Position(symbol string) Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return positionFrom(symbol, c.data.Lookup("trade", c.account, "positions", symbol))
}

// Order returns an order by id. ok is false until the order has arrived.
func (c *Client) Order(orderID string) (o Order, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.data.Lookup("trade", c.account, "orders", orderID)
	if n == nil {
		return Order{}, false
	}
	return orderFrom(orderID, n), true
}

// Orders returns every order of the account by id.
func (c *Client) Orders() map[string]Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	orders := c.data.Lookup("trade", c.account, "orders")
	out := make(map[string]Order, orders.Len())
	for _, id := range orders.Keys() {
		if n := orders.Child(id); n != nil {
			out[id] = orderFrom(id, n)
		}
	}
	return out
}

// Stat returns the end of run statistics of a sim account, nil before the
// run has ended.
func (c *Client) Stat() map[string]any {
	return c.Snapshot("trade", c.account, "accounts", "CNY", "_tqsdk_stat")
}

// Login sends req_login with fields passed through as given, then confirms
// the settlement statement. Both are replayed after a reconnect.
func (c *Client) Login(fields map[string]any) error {
	p := protocol.Pack{"aid": protocol.AidReqLogin}
	for k, v := range fields {
		if k != "aid" {
			p[k] = v
		}
	}
	if err := c.send(p); err != nil {
		return err
	}
	c.logger.Info("login sent", "user_name", p.Str("user_name"))
	return c.send(protocol.Pack{"aid": protocol.AidConfirmSettlement})
}
