// Package server hosts the room websocket endpoint and the operational
// surfaces from a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, security
// headers, CORS, rate limiting, metrics, and logging so every route shares the
// same protections and instrumentation. Room traffic attaches at /ws/{room};
// /healthz and /metrics serve probes and scrapes.
package server
