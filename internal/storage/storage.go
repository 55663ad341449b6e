// Package storage defines the durable client-side key/value storage that a
// visitor's session state lives in.
//
// It is the server-side counterpart of a browser's local storage: string
// keys, string values, one namespace per visitor. Only identity.Store and
// cart.Resolver write to it.
package storage

import "context"

// Storage is a single visitor's key/value namespace.
type Storage interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Apply performs every change as one atomic transition: readers observe
	// either none or all of them.
	Apply(ctx context.Context, changes ...Change) error
}

// Change is one write inside an Apply call.
type Change struct {
	Key    string
	Value  string
	Delete bool
}

// Put returns a Change that stores value under key.
func Put(key, value string) Change { return Change{Key: key, Value: value} }

// Delete returns a Change that removes key.
func Delete(key string) Change { return Change{Key: key, Delete: true} }
