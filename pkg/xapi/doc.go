// Package xapi describes the device platform a hotdesk lock runs against.
// The platform is reached through commands, status queries, and a stream of
// UI events and status changes, modelled by the [Host] interface.
//
// Two implementations are provided:
//   - [DialWebSocket] speaks JSON-RPC 2.0 to a RoomOS device over its [xAPI WebSocket].
//   - [NewDbusHost] talks to a device bridge service exposed on D-Bus.
//
// Events are delivered to channels registered with [Host.AddEventSignal] and are usually fed
// into a [Router], which calls the registered handler for each event kind, one event at a time.
//
// [xAPI WebSocket]: https://roomos.cisco.com/doc/TechDocs/xAPI
package xapi
