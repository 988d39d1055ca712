// Package kernelmux runs code on many interpreter kernels at once and
// routes their output back to whoever asked for it.
//
// Each subpackage can be used independently:
//
//   - queue: unbounded FIFO queue that can be stopped
//   - kernel: kernel messages, the Client interface, backend registry
//   - kernel/subprocess: kernels running as child processes
//   - kernel/gateway: kernels hosted by a Jupyter-server style gateway
//   - session: named kernel sessions merged into one message stream
//   - router: per-request futures and streams keyed by correlation id
//   - parser: code blocks in chat messages
//   - config: TOML, YAML and JSON configuration files
//   - watch: follow a file for changes
//
// # Quick Start
//
//	import _ "github.com/randalmurphal/kernelmux/kernel/backends"
//
//	prov, _ := kernel.New(kernel.Config{
//	    Backend: "subprocess",
//	    Options: map[string]any{"command": "pykernel"},
//	})
//	mgr := session.NewManager(prov)
//	defer mgr.Close(ctx)
//
//	r := router.New(mgr)
//	go r.Run(ctx)
//
//	mgr.StartSession(ctx, "main")
//	f, _ := r.Request(ctx, mgr, "main", "21*2")
//	msg, _ := f.Wait(ctx)
//
// StopAll shuts every session down and starts a new generation: waiters for
// requests made before it are cancelled, and the aggregate stream continues
// with sessions started afterwards.
package kernelmux
