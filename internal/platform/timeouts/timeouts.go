// Package timeouts defines shared timeout constants used across the client.
// Centralizing these values keeps every remote call bounded and makes the
// durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a backend.
const GRPCDial = 2 * time.Second

// RemoteCall caps one remote method call. A call that exceeds it is
// classified as a network failure and becomes eligible for retry.
const RemoteCall = 5 * time.Second

// Authentication caps how long a login waits for the identity provider.
const Authentication = 2 * time.Minute

// BackgroundRefresh caps a stale-while-revalidate refetch, which runs
// detached from any caller context.
const BackgroundRefresh = 10 * time.Second

// Shutdown limits how long telemetry and listeners may take to stop.
const Shutdown = 5 * time.Second

// CacheFetch caps one de-duplicated cache fetch, retries included. The fetch
// outlives any single reader, so it is bounded on its own.
const CacheFetch = 20 * time.Second
