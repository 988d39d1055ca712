// Package config loads kernelmux configuration files.
//
// The format follows the file extension: .toml, .yaml/.yml or .json.
// Values in the file override DefaultConfig:
//
//	cfg, err := config.Load("kernelmux.toml")
//	prov, err := kernel.New(cfg.Kernel)
//	mgr := session.NewManager(prov, cfg.Manager.Options()...)
//
// In TOML and YAML, durations are strings such as "30s". JSON durations
// are integer nanoseconds.
package config
