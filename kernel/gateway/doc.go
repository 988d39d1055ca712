// Package gateway provides a kernel backend for kernels hosted by a
// Jupyter-server style gateway.
//
// Kernels are created over the REST API and spoken to over a single
// websocket that multiplexes every channel:
//
//	prov := gateway.NewProvisioner("http://localhost:8888",
//	    gateway.WithToken(os.Getenv("GATEWAY_TOKEN")))
//	client, err := prov.Start(ctx)
//
// Shutdown sends a shutdown_request, closes the websocket and deletes the
// kernel from the gateway.
package gateway
