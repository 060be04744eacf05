// Package server exposes the node over HTTP: the unauthenticated
// federation protocol surface peers talk to, and the bearer-authenticated
// client API surface operators and integrations talk to. Both mount on
// one listener and answer failures with stable error codes.
package server
