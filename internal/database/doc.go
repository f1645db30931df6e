// Package database connects to Postgres and serves replay history from it.
//
// History lives in three tables:
//   - instruments: symbol, info (jsonb with price_tick, margin, trading_time, ...)
//   - klines: symbol, duration (ns), id, datetime (ns), OHLC, volume, open_oi, close_oi
//   - ticks: symbol, id, datetime (ns), last price, first book level, volume, amount, open_interest
//
// Ids are dense per series and ordered like datetime.
package database
