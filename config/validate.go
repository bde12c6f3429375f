// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strings"

	"github.com/bitfsorg/daoregistry-go/registry"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if cfg.Network != "mainnet" && cfg.Network != "testnet" && cfg.Network != "regtest" {
		return ErrInvalidNetwork
	}

	if err := validateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}

	// Empty disables the metrics listener.
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMetricsAddr, err)
		}
	}

	if cfg.Owner != "" {
		if _, err := registry.ParseAddress(cfg.Owner); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOwner, err)
		}
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	switch cfg.LogEncoding {
	case "console", "json":
	default:
		return ErrInvalidLogEncoding
	}

	if cfg.MaxRequestBytes <= 0 {
		return ErrInvalidRequestLimit
	}

	return validateSnapshot(cfg.Snapshot)
}

func validateSnapshot(s SnapshotConfig) error {
	for name, raw := range map[string]string{"api_url": s.APIURL, "rpc_url": s.RPCURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s %q", ErrInvalidSnapshot, name, raw)
		}
	}

	if s.MinHold != "" {
		hold, ok := new(big.Rat).SetString(s.MinHold)
		if !ok || hold.Sign() < 0 {
			return fmt.Errorf("%w: min_hold %q must be a non-negative decimal", ErrInvalidSnapshot, s.MinHold)
		}
	}
	if s.DNSSECUpstream != "" {
		if err := validateAddr(s.DNSSECUpstream); err != nil {
			return fmt.Errorf("%w: dnssec_upstream %q: %w", ErrInvalidSnapshot, s.DNSSECUpstream, err)
		}
	}

	switch {
	case s.MaxUnresolved < 0 || s.MaxUnresolved > 1:
		return fmt.Errorf("%w: max_unresolved must be between 0 and 1", ErrInvalidSnapshot)
	case s.DNSSECTimeout < 0:
		return fmt.Errorf("%w: dnssec_timeout must not be negative", ErrInvalidSnapshot)
	case s.PageSize <= 0:
		return fmt.Errorf("%w: page_size must be positive", ErrInvalidSnapshot)
	case s.MaxPages <= 0:
		return fmt.Errorf("%w: max_pages must be positive", ErrInvalidSnapshot)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidSnapshot)
	case s.PageDelay < 0 || s.BatchDelay < 0:
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidSnapshot)
	}
	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
