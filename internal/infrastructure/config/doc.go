// Package config provides configuration loading for the Casambi bridge.
//
// Configuration is loaded from a YAML file, layered over hardcoded
// defaults, then overridden by environment variables:
//
//  1. Defaults (defaultConfig)
//  2. YAML file values
//  3. CASAMBRIDGE_* environment variables
//
// Secrets (cloud credentials, API key, JWT secret, broker password)
// should come from the environment rather than the file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	interval := cfg.Casambi.GetKeepaliveInterval()
//
// Duration-valued settings are stored as integer seconds (or
// milliseconds for the reconcile windows) and exposed through GetX()
// accessors returning time.Duration.
package config
