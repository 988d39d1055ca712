package config

import "errors"

// ErrUnknownFormat is returned when a config file extension is not supported.
var ErrUnknownFormat = errors.New("unknown config format")
