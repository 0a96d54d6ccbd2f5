// Package resource provides generation-checked handle tables.
//
// A handle is an opaque integer naming a host-side value such as an open
// socket. Callers never hold the value itself, only the handle, so the
// table decides when a value is reachable.
//
// # Handle Table
//
// The UnifiedTable maps handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, conn)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Remove and release (calls Drop if the value implements Dropper)
//	value, ok := table.Remove(handle)
//
// # Stale Handles
//
// Slots are reused after Remove, but every reuse bumps the slot's
// generation, which is encoded in the handle. A handle that outlived its
// value therefore misses instead of resolving to whatever took the slot:
//
//	h1 := table.Insert(1, a)
//	table.Remove(h1)
//	h2 := table.Insert(1, b) // same slot, new generation
//	_, ok := table.Get(h1)   // !ok
//
// A slot is retired once its generation would come back to where it
// started, so no handle value is ever issued twice by one table. Each
// table also starts from its own generation, which keeps handles from
// different tables apart in practice; it is not a guarantee.
//
// # Type Safety
//
// Each resource type gets a type ID. Typed lookups reject handles of other
// types, and Typed[T] wraps a table for a single type:
//
//	clients := resource.NewTyped[*Client](table, ClientTypeID)
//	h := clients.Insert(c)
//	c, ok := clients.Get(h)
//
// # Observers
//
// Observers receive EventCreated and EventDropped synchronously from
// Insert and Remove.
//
// # Memory Management
//
// Values are not garbage collected out of the table. Owners must call
// Remove, or Close the table to drop everything at once.
package resource
