package pool

import "context"

// ComputeFunc adapts a client-free function into a RequestFunc so it
// can be posted to a compute pool (§4.3's "compute worker: executes
// functions that take no request").
func ComputeFunc(fn func(ctx context.Context) int) RequestFunc {
	return func(ctx context.Context, _ *Client) int {
		return fn(ctx)
	}
}
