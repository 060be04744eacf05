// Package httpserver provides a reusable HTTP server implementation with
// common functionality for the node's network surfaces.
//
// The httpserver package implements a base HTTP server with standard health
// endpoints, graceful shutdown capabilities, and flexible routing. The
// federation protocol surface and the client API surface both build on it,
// so lifecycle behavior stays identical across them.
//
// # Key Components
//
//   - BaseServer: Core HTTP server with health checks and lifecycle management
//   - RouteRegistrar: Interface for components to register their routes with the server
//
// # Server Lifecycle
//
// The BaseServer implements a complete server lifecycle:
//
//  1. Initialization: Configure server with HTTP settings and route registrars
//  2. Startup: Run the HTTP server in a background goroutine
//  3. Operation: Handle requests with proper logging
//  4. Readiness Control: Support drain/undrain operations for load balancers
//  5. Graceful Shutdown: Wait for in-flight requests to complete
//
// # Health and Diagnostics
//
// All servers built with BaseServer automatically include:
//
//   - Liveness Check: Simple endpoint to verify server is running (/livez)
//   - Readiness Check: Endpoint indicating if server is ready to accept requests (/readyz)
//   - Drain Control: Endpoints to prepare for graceful shutdown (/drain, /undrain)
//   - Profiling: Optional pprof debugging endpoints when enabled
package httpserver
