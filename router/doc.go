// Package router correlates kernel output with the requests that caused it.
//
// A Router drains a session manager's message stream and looks up each
// message's correlation id in a table of waiters. A waiter is either a
// Future, resolved once with the first content message (execute result,
// stream output or error) or with nil when the kernel reports idle, or a
// Stream, which receives every content message until idle.
//
// Waiters are registered before code is submitted, so a reply can never
// arrive for an id the router does not know yet:
//
//	r := router.New(mgr)
//	go r.Run(ctx)
//
//	f, err := r.Request(ctx, mgr, "main", "1 + 1")
//	msg, err := f.Wait(ctx) // execute_result, or nil if there was no output
//
// Messages for unknown ids and message types that do not route are dropped.
//
// When a generation of the manager ends, waiters belonging to it are
// cancelled with ErrCanceled. A request belongs to the generation of the
// session that received it. When Run returns, all remaining waiters are
// cancelled.
package router
