// Package relay holds the shared signaling state: the registry of open
// sessions and the tables that bind camera streams and viewers to the gateway
// session currently serving them.
//
// Neither type knows about message formats. Routing decisions live in
// internal/signaling, which owns one Registry and one BindingTable.
package relay
