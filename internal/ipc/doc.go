// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs that map
// pipeline state, scene layers, and journal sessions onto lightweight wire
// representations. The server embeds the daemon; the client is a thin typed
// wrapper over net/rpc so CLI commands fail fast when the daemon is offline.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
