// Package subprocess runs kernels as local child processes.
//
// The child speaks kernel messages as newline-delimited JSON over stdio:
// every line written to its stdin is one message (its channel in the
// "channel" field), and every line it prints on stdout is one message back.
// Anything the child writes to stderr is logged at debug level.
//
//	Session <--JSON lines/stdio--> kernel process
//
// Start performs a kernel_info handshake within the startup timeout.
// Shutdown sends a shutdown_request on the control channel, closes stdin and
// waits for the process to exit, killing its whole process group if it does
// not exit within the shutdown timeout.
//
// # Usage
//
//	prov, err := kernel.New(kernel.Config{
//	    Backend: "subprocess",
//	    Options: map[string]any{
//	        "command": "python3",
//	        "args":    []string{"-m", "jsonl_kernel"},
//	    },
//	})
package subprocess
