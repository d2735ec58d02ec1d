// Package deskstream is the client SDK for the deskstream support-desk
// backend. It keeps a client's in-memory picture of tickets and messages
// consistent with the backend's real-time row-change feed, under the
// viewer's visibility (customers see their own tickets, staff see all),
// while deriving per-ticket aggregates and enforcing the ticket lifecycle
// rules.
//
// The entry point is [NewView]: it takes the authenticated session, a feed
// transport, and a storage client, establishes the role-scoped change-feed
// subscriptions, and runs one event loop that reconciles every incoming
// change into the entity store, recomputes the changed ticket's aggregates,
// and evaluates user-facing alerts. Writes go out through [Lifecycle] and
// come back as change events; the reconciler makes redelivered and
// reordered events converge, so the SDK never depends on the feed being
// ordered or deduplicated.
package deskstream
