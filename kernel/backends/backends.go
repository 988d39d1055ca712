// Package backends registers all kernel backends.
// Import this package to make them available via kernel.New():
//
//	import _ "github.com/randalmurphal/kernelmux/kernel/backends"
package backends

import (
	_ "github.com/randalmurphal/kernelmux/kernel/gateway"
	_ "github.com/randalmurphal/kernelmux/kernel/subprocess"
)
