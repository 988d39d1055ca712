// Package kernel defines the interactive-computation backends that sessions
// wrap, and the messages they emit.
//
// A kernel is an isolated execution engine reached over several independent
// channels (iopub, shell, stdin, control). Code is submitted without blocking
// and every message the kernel produces in response carries the submitting
// request's msg_id in its parent header. That id is the correlation id used
// to route replies back to the caller.
//
// # Backends
//
// Backends register a Factory under a name and are created through New:
//
//	import _ "github.com/randalmurphal/kernelmux/kernel/backends"
//
//	prov, err := kernel.New(kernel.Config{
//	    Backend: "subprocess",
//	    Options: map[string]any{"command": "python3", "args": []string{"-m", "mykernel"}},
//	})
//	client, err := prov.Start(ctx)
//
// Conn implements the channel demultiplexing shared by all backends on top of
// a message Transport.
//
// # Message content
//
// Message.Decode returns one of the *...Content types. Consumers switch on the
// concrete type:
//
//	switch c := content.(type) {
//	case *kernel.StreamContent:
//	    fmt.Print(c.Text)
//	case *kernel.ErrorContent:
//	    fmt.Println(strings.Join(c.Traceback, "\n"))
//	case *kernel.UnknownContent:
//	    // ignored
//	}
package kernel
