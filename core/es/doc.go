// Package es provides the event sourcing core: an append-only event store
// with optimistic concurrency, a repository that folds streams into state,
// a command router that serializes work per aggregate, and an in-process bus.
//
// # Events
//
// Events are plain structs that name their own type tag. The tag is what is
// persisted, so decoding goes through an explicit [EventRegistry]:
//
//	registry := es.NewRegistry()
//	registry.Register(es.Ctor[Created](), es.Ctor[Booted]())
//
// # Store and Repository
//
// [EventStore] keeps one stream per aggregate. Loading a stream that does not
// exist returns no events and no error. [EventStore.Append] fails with
// [ErrConcurrencyConflict] when the stream moved past the expected version.
// Use [NewInMemoryStore] for tests; adapters/nats and adapters/postgres
// provide durable stores.
//
// [Repository] decodes and applies events onto a [State] and stamps new
// events with ids, versions, timestamps and metadata before appending.
//
// # Router
//
// [Router] maps command types to handlers. A dispatch loads the aggregate,
// asks the handler for a [Decision], applies and appends its events, then
// publishes them on the [Bus]. All of that happens with at most one command
// in flight per aggregate id:
//
//	router, _ := es.NewRouter(es.RouterOptions[*Station]{
//	    AggregateType: "station",
//	    New:           func() *Station { return &Station{} },
//	    Repository:    es.NewRepository(store, registry),
//	    Bus:           bus,
//	})
//	es.On(router, "create", handleCreate)
//	res, err := router.Dispatch(ctx, cmd)
//
// On a conflict the whole load/decide/append cycle is retried a bounded
// number of times before the error is returned.
//
// # Bus
//
// [Bus] delivers published events asynchronously. Events of one aggregate
// arrive in order; subscribers may dispatch commands back into the router
// without deadlocking because Publish only enqueues.
package es
