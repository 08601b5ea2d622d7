// Package ir provides the foundational types shared by every flowkit package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the method model the
// bottom layer with no circular dependencies.
//
// Key design constraints:
//   - MethodSpec values are immutable once a registry is built
//   - Start, Listener and Router are independent flags, not an enum
//   - Persisted values use canonical JSON (sorted keys, NFC strings)
package ir
