// Package wire implements the terminal wire protocol: one JSON object per
// frame over a persistent socket. Outbound frames carry a "cmd" tag naming
// the command; inbound replies echo it in "ret" together with a boolean
// "result" (and a numeric "reason" on failure). Unsolicited frames from the
// terminal (registration, log upload, user upload) carry "cmd" as well.
//
// The codec is deliberately lenient on decode: a frame with a missing or
// malformed tag maps to CmdUnknown so the router can log and drop it instead
// of tearing down the connection. Field range validation (backup numbers,
// counters) is the job of the individual handlers, not the codec.
package wire
