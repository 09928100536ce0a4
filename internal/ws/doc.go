// Package ws provides WebSocket connection handling and message routing
// for shared editing sessions.
//
// The package implements:
//   - Client: one connection with a bounded outbound queue
//   - Hub: the connections joined to one session
//   - HubManager: the session id to hub index used to scope broadcasts
//   - Handler: the join/leave state machine and message dispatch
//   - Service: wiring to the session store, idle sweeper and background bookkeeping
//
// Content and cursor changes are relayed to every other connection of the
// session. File uploads and deletes are answered with the full file list,
// sent to everyone including the sender. Within a session, a store mutation
// and its fan-out run under the hub's ordering lock.
package ws
