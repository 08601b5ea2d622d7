// Package registry builds the static method table of a flow type.
//
// A flow type is declared with a Builder: each method is registered with its
// kind (start, listener, router), its trigger condition and its body. Build
// validates the whole table eagerly and returns an immutable Registry that
// the engine reads once at construction.
//
// Validation is strict where the decorator-based original was lenient:
// duplicate registrations and conditions naming unknown methods or labels
// are ConfigurationErrors instead of silently winning or never firing.
package registry
