// Package connection implements the RPC engines for talking to an EddyDB
// server.
//
// Connection is the websocket engine: one persistent socket multiplexing
// concurrent request/response calls and live-subscription streams, with
// early-arrival buffering and automatic fixed-delay reconnection.
// HTTPClient is the one-shot engine for request/response only use.
//
// Key concepts:
//   - Direct reply: a response frame matched to exactly one Send by id
//   - Push notification: an unsolicited frame for a live subscription
//   - Early-arrival buffer: per-subscription queue replayed to the first
//     listener that registers
package connection
