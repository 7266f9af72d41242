// Package history defines the domain model for the form-autofill history
// store: entries, change requests, field whitelists, and the error taxonomy
// shared by every layer above the persistence engine.
//
// Change requests form a closed union (Add, Update, Remove, Bump). Typed
// construction makes most invalid states unrepresentable; the dynamic
// ParseChange / ValidateSearch entry points cover untyped key/value input
// (CLI, JSON) and enforce the field whitelists there.
package history
