// Package backend defines the contract every inference backend adapter
// implements, along with the buffer-only types exchanged across an engine
// isolation boundary. The engine layer depends on this package alone, never
// on a backend's native types.
package backend
