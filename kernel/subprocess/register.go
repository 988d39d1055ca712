package subprocess

import (
	"github.com/randalmurphal/kernelmux/kernel"
)

func init() {
	kernel.Register(backendName, newFromKernelConfig)
}

// newFromKernelConfig creates a Provisioner from a kernel.Config.
// This is the factory function registered with the kernel registry.
func newFromKernelConfig(cfg kernel.Config) (kernel.Provisioner, error) {
	subCfg := Config{
		Command:         cfg.GetStringOption("command", ""),
		Args:            cfg.GetStringSliceOption("args"),
		WorkDir:         cfg.GetStringOption("work_dir", ""),
		Env:             cfg.GetStringMapOption("env"),
		StartupTimeout:  cfg.StartupTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := subCfg.Validate(); err != nil {
		return nil, kernel.NewError(backendName, "configure", err)
	}
	return NewProvisionerWithConfig(subCfg), nil
}
