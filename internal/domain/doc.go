// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (workflow.go, execution.go, errors.go) hold shared
// types and cross-cutting interfaces. No implementation code, just contracts.
// Keeping interfaces here prevents circular imports between the storage,
// transport, and realtime layers.
package domain
