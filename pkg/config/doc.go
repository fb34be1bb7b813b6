// Package config provides configuration management for keygate.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden by environment variables and validated as a whole.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("keygate.yaml")            // file only
//	cfg, err := config.LoadConfigWithEnvOverrides("keygate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention KEYGATE_SECTION_FIELD:
//
//   - KEYGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - KEYGATE_VAULT_BACKEND overrides vault.backend
//   - KEYGATE_TIERS_FLAGSHIP_TPM overrides tiers.flagship.tpm
//   - KEYGATE_TIERS_FAST_RPD=none makes the fast RPD axis unbounded
//
// # Hot Reload
//
// Watcher observes the configuration file and calls ReloadConfig after a
// burst of writes settles. Listeners registered with OnReload receive the new
// configuration; the server uses this to swap tier limits in place.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8090"
//
//	tiers:
//	  flagship: { rpm: 15, rpd: 200, tpm: 1000000 }
//	  fast:     { rpm: 20, tpm: 1000000 }
//
//	fallback:
//	  order: [flagship, fast]
//
//	vault:
//	  backend: sqlite
//	  sqlite:
//	    path: data/keygate.db
//
//	seal:
//	  algorithm: aes-256-gcm
//	  key_env: KEYGATE_SEAL_KEY
package config
