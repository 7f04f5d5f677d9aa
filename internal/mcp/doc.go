// Package mcp connects to external Model Context Protocol servers and exposes
// their tools to agents.
//
// Servers are configured under the "mcp" config key and reached over stdio
// (a local command) or HTTP (streamable, falling back to SSE). Every remote
// tool is registered as mcp_<server>_<tool> with execute access, so a preset
// has to enable it explicitly, usually through an "mcp_*" pattern.
//
//	client := mcp.NewClient()
//	defer client.Close()
//	if err := client.AddServer(ctx, "github", &mcp.Config{
//		Enabled: true,
//		Type:    mcp.TransportTypeLocal,
//		Command: []string{"github-mcp-server", "stdio"},
//	}); err != nil {
//		// The server is recorded as failed; other servers still work.
//	}
//	mcp.RegisterTools(client, registry)
package mcp
