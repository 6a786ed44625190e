// Copyright 2024-2026 Aiku AI

// Package connector implements the per-account session layer of a
// Matrix-Twitter DM bridge: it links one Matrix user to one Twitter account,
// keeps the authenticated connection alive and routes inbound DM events to
// the portals and puppets that mirror them on the Matrix side.
//
// # Core Types
//
// [Registry] is the process-wide session cache. It maps Matrix user IDs and
// Twitter user IDs to the single live [Session] per linked account, loading
// records through an injected [SessionStore] on cache misses.
//
// [Session] owns one account's connection lifecycle (Connect, Stop, Logout),
// credential pair and resumable poll cursor. A successful Connect binds the
// account's Twitter user ID exactly once per login cycle and starts a
// dispatch loop that routes the five remote event kinds.
//
// Portal and puppet materialization, permission config sourcing and notice
// room creation are consumed through the interfaces in interfaces.go; this
// package only defines the contract at that boundary.
package connector
