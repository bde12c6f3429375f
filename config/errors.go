// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"regtest\")")

	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidMetricsAddr indicates the metrics address is malformed.
	ErrInvalidMetricsAddr = errors.New("config: invalid metrics address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrInvalidLogEncoding indicates the log encoding is not recognized.
	ErrInvalidLogEncoding = errors.New("config: invalid log encoding (must be \"console\" or \"json\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidOwner indicates the owner is not a valid address.
	ErrInvalidOwner = errors.New("config: invalid owner address")

	// ErrInvalidRequestLimit indicates max_request_bytes is not positive.
	ErrInvalidRequestLimit = errors.New("config: max_request_bytes must be positive")

	// ErrInvalidSnapshot indicates an out-of-range snapshot setting.
	ErrInvalidSnapshot = errors.New("config: invalid snapshot setting")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the configuration file is not valid YAML.
	ErrInvalidConfigFile = errors.New("config: invalid configuration file")

	// ErrInvalidEnv indicates an environment override could not be parsed.
	ErrInvalidEnv = errors.New("config: invalid environment override")
)
