// Package services orchestrates the federation core over the persistent
// store: the node registry and profile broadcast, the follow-graph state
// machine, publication lifecycle, the comment verification workflow, the
// authorization gate, outbound federation deliveries, and the periodic
// orphan-content sweep.
//
// Services hold no mutable state of their own; every request operates
// over the shared store. Local mutations always commit before any remote
// delivery is attempted, and remote failures are logged per peer, never
// surfaced into the triggering request.
package services
