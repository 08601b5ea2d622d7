// Package state holds the shared data record of one flow instance.
//
// A Container is either unstructured (an ordered key/value record) or
// structured (a record validated against a CUE #State definition). Every
// change produces a new immutable Snapshot that replaces the old one under
// the container's lock, so concurrent readers never observe a half-applied
// update and a rejected change leaves the previous snapshot in place.
//
// Every state carries a non-empty string "id", generated when absent.
package state
