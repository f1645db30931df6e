// Package protocol defines the JSON message envelope exchanged with the
// market data and trade servers.
//
// Every message is a Pack keyed by "aid". Requests flow upstream
// (subscribe_quote, set_chart, insert_order, peek_message, ...) and the
// server answers with rtn_data packs whose "data" field is an ordered list
// of partial diffs against the client snapshot.
package protocol
