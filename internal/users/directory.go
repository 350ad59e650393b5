// Package users defines the handoff to the user directory: the engine only
// extracts the user ids referenced by newly merged events and passes them
// on; resolving display metadata is someone else's job.
package users

import "context"

// Directory receives the ids of users referenced by newly merged events so
// display metadata can be resolved out of band. Implementations must not
// block the caller.
type Directory interface {
	RequestUsers(ctx context.Context, userIDs []string)
}

// NopDirectory discards every request.
type NopDirectory struct{}

// RequestUsers implements Directory.
func (NopDirectory) RequestUsers(context.Context, []string) {}
