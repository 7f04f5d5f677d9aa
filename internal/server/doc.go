// Package server exposes the agent pool over HTTP.
//
// Routes:
//
//   - GET  /health: liveness and agent count
//   - GET  /presets, GET /presets/{name}: permission presets
//   - GET|POST /agents: list and create agents
//   - GET|DELETE /agents/{id}: status and destroy
//   - POST /agents/{id}/send: run one turn (or queue it with "async": true)
//   - POST /agents/{id}/{cancel,restore,save,compact}
//   - GET  /agents/{id}/history: conversation messages
//   - GET  /confirmations, POST /confirmations/{requestID}: the confirmation queue
//   - GET  /mcp: remote MCP server status
//   - GET  /events: Server-Sent Events, optionally filtered with ?agent=<id>
//
// Errors use a single JSON envelope:
//
//	{"error": {"code": "NOT_FOUND", "message": "agent \"a1\" not found"}}
//
// The SSE endpoint is a small hand-written writer over http.ResponseController
// reading from the event bus stream topic.
package server
