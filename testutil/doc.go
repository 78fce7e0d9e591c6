// Package testutil provides test helpers shared by the engine packages.
//
// MockNATSClient is an in-memory publish/subscribe client with the same
// Publish/Subscribe shape as natsclient.Client. Each subscription delivers
// on its own goroutine in publish order, so it behaves like a real server
// for the network buffer backend without needing one. Use
// natsclient.NewTestClient under the integration build tag when real NATS
// behaviour matters.
//
// The wait helpers poll a condition with a deadline, which keeps
// asynchronous assertions free of fixed sleeps.
package testutil
