// Package link implements the resilient device-connection layer used by all
// SHQ embedded controllers (door automation, kiosk displays).
//
// Controllers expose a persistent message-oriented WebSocket that carries
// four kinds of JSON messages: command responses, error responses,
// unsolicited state broadcasts, and keepalive noops. The package keeps one
// live connection per controller endpoint alive across network drops and
// device reboots, and multiplexes the inbound stream into its consumers.
//
// Architecture:
//
//	                 ┌──────────────────────────────────────┐
//	                 │              Supervisor              │
//	                 │  connect / reconnect / shutdown      │
//	                 │  ┌────────────┐   ┌───────────────┐  │
//	  Command() ─────┼─▶│   Client   │   │    Monitor    │  │
//	                 │  │ read loop  │   │ 30s liveness  │  │
//	                 │  │ keepalive  │   │ 10s interval  │  │
//	                 │  └─────┬──────┘   └───────┬───────┘  │
//	                 │        │ broadcasts       │ flips    │
//	                 │        ▼                  ▼          │
//	                 │      Subscriber.OnBroadcast /        │
//	                 │      Subscriber.OnAvailability       │
//	                 └──────────────────────────────────────┘
//	                          │
//	                          ▼ ws://host:port
//	                     ┌─────────┐
//	                     │ Channel │  gorilla/websocket
//	                     └─────────┘
//
// Correlation is order-based: controllers answer commands in arrival order
// and carry no request identifiers, so Client.Call serializes commands per
// connection and pairs each one with the next response-class message.
//
// Reconnection is duplicate-free: a Supervisor holds at most one scheduled
// reconnect attempt at any time, and a failed command requests an immediate
// attempt without waiting out the normal delay.
//
// Availability is staleness-based: a controller counts as available while
// any traffic (keepalives included) arrived within the liveness window,
// independent of what the socket state claims.
package link
