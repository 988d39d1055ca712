// Package session runs named kernel sessions and merges their output into
// one message stream.
//
// A Manager owns a mapping from session name to Session and one shared fan-in
// queue. Each Session runs one listener per kernel channel; listeners forward
// every message they receive into the queue of the generation the session
// was registered in. StopAll shuts every session down and starts a new
// generation with a fresh queue, so output from a previous generation can
// never reach a consumer of the next one.
//
// # Usage
//
//	mgr := session.NewManager(provisioner)
//	defer mgr.Close(ctx)
//
//	if _, err := mgr.StartSession(ctx, "main"); err != nil {
//	    return err
//	}
//	id, err := mgr.Execute(ctx, "main", "1 + 1")
//
//	for msg := range mgr.All(ctx) {
//	    if msg.CorrelationID() == id {
//	        // ...
//	    }
//	}
//
// Routing messages back to individual requests is done by package router.
package session
