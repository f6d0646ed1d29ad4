// Package authgate is a centralized authorization oracle for a
// multi-service, multi-tenant platform. Caller services ask whether a
// verified bearer token may perform METHOD on PATH (or a named route) for a
// given service, optionally scoped to specific stores, and receive a
// structured verdict with the reasoning.
//
// The engine selects at most one rule per request (route-name bindings
// beat path patterns, then priority descending with id ascending as the
// tie-break) and evaluates it under the rule's store-scope mode, computing
// per-store effective permissions from a cycle-safe role-hierarchy graph
// when needed. Rule lists and decisions are memoized in a shared cache
// namespaced by a ruleset version counter that every rule mutation bumps,
// so stale entries expire without synchronous invalidation sweeps. Every
// outcome is a verdict; the engine fails closed.
package authgate
