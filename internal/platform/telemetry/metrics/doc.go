// Package metrics provides operational metrics collection.
//
// # Metric Categories
//
//   - Remote calls: count and latency by service, method and error code
//   - Cache: hits, misses, shared fetches, refreshes and invalidations
//   - Mutations: outcomes by mutation name
//   - Session: identity state transitions
//
// # gRPC Interceptor
//
// UnaryClientInterceptor records every outbound call. Errors are classified
// through platform/errors so the code label matches what callers observe.
//
// A nil *Metrics is valid and records nothing.
package metrics
