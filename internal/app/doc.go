// Package app assembles the charging station service: the event store
// selected by configuration, the command router with its bus and read
// model, the protocol bindings, and the HTTP surface serving both the
// operator API and the OCPP-J websocket endpoint.
//
// # Basic Usage
//
//	cfg, err := config.Load("config.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	a, err := app.New(ctx, cfg, cfg.Logger())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//
//	// blocks until ctx is cancelled
//	err = a.Run(ctx)
//
// # Multiple Instances
//
// With the nats store, instances share the event stream, the pending
// request bucket and a relay subject per connected station. An operator
// request may land on any instance; the instance holding the station's
// websocket writes the frame and settles the reply.
package app
