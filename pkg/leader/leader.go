//go:build !consul

// Package leader gates singleton background work. Without the consul build
// tag there is nothing to coordinate with, so the guard runs the callback
// directly.
package leader

import "context"

// Guard runs fn. Multi-instance deployments build with -tags consul to get
// session-lock election instead.
func Guard(ctx context.Context, _ string, _ string, fn func(ctx context.Context)) {
	fn(ctx)
}
