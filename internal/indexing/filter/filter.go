// Package filter keeps the set of watched addresses the scheduler polls.
package filter

import "context"

// Filter defines the interface for address filtering
type Filter interface {
	// Contains checks if an address is watched
	Contains(address string) bool

	// Add adds an address to the filter
	Add(address string)

	// Remove removes an address from the filter
	Remove(address string)

	// Size returns the number of watched addresses
	Size() int

	// Addresses returns the watched addresses in sorted order
	Addresses() []string

	// Rebuild replaces the filter contents from a loader
	Rebuild(ctx context.Context, load func(context.Context) ([]string, error)) error
}
