// Package gateway implements the forwarding path of the relay.
// It coordinates body validation, target rotation, admission control
// and per-operation circuit breaking for each inbound request.
package gateway
