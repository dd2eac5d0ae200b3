// Package firelite is a document-database client that speaks the database's
// REST surface for reads, writes and queries, and a streaming channel for
// realtime snapshots, for environments that cannot use the native binary RPC
// transport.
//
// The entry point is NewClient. From a Client you navigate to collections
// and documents:
//
//	client, err := firelite.NewClient(ctx, firelite.Config{
//		ProjectID:   "demo",
//		TokenSource: tokens,
//	})
//	if err != nil { ... }
//	doc := client.Collection("users").Doc("alice")
//	_, err = doc.Set(ctx, map[string]any{"name": "Alice"})
//
// Queries are immutable builders: every mutator returns a derived Query and
// never touches its receiver, so a base query can safely be shared across
// cursor and partition derivations.
//
// Realtime subscriptions are served by Snapshots on a DocumentRef or Query,
// which return iterators fed from a dedicated streaming channel. Writes can
// be committed three ways: atomically inside a retried transaction
// (Client.RunTransaction), atomically as one batch (Client.Batch), or
// best-effort through a throttled retrying queue (Client.BulkWriter).
package firelite
