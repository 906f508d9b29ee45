// Package mcp exposes the collection store as MCP tools.
//
// The server is built on github.com/modelcontextprotocol/go-sdk/mcp and
// runs on the stdio transport. Collection and document tools are always
// registered; chat, summarize and ingest tools only when the matching
// service is configured. tool_search lets clients discover tools by name,
// description or keyword.
package mcp
