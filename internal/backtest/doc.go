// Package backtest replays historical series as if they were live market
// data. A Driver sits at the top of the pipeline in place of the market
// data connection: it answers subscribe_quote, set_chart and ins_query from
// a Source, and on every peek_message advances a single replay clock to
// the next timestamp found across all subscribed series.
//
// Quotes are synthesized from bars: at a bar's open the quote sits one
// tick around the open price, at its end it visits high, low and close in
// turn. Tick series carry the tick itself as the quote.
//
// When every series is exhausted or past the end time the driver sends a
// last _tqsdk_backtest update and closes its downstream channel. The
// stages below observe that as the end of the run.
package backtest
