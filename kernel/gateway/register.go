package gateway

import (
	"github.com/randalmurphal/kernelmux/kernel"
)

func init() {
	kernel.Register(backendName, newFromKernelConfig)
}

// newFromKernelConfig creates a Provisioner from a kernel.Config.
func newFromKernelConfig(cfg kernel.Config) (kernel.Provisioner, error) {
	gwCfg := Config{
		URL:             cfg.GetStringOption("url", ""),
		Token:           cfg.GetStringOption("token", ""),
		KernelName:      cfg.GetStringOption("kernel_name", DefaultKernelName),
		StartupTimeout:  cfg.StartupTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := gwCfg.Validate(); err != nil {
		return nil, kernel.NewError(backendName, "configure", err)
	}
	return NewProvisionerWithConfig(gwCfg), nil
}
