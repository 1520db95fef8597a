// Package config loads semian configuration from a YAML file and the
// environment.
//
// A file describes per-environment resource options plus the store, admin,
// logging and telemetry sections:
//
//	environment: production
//	default_key: http_default
//	store:
//	  backend: file
//	  dir: /dev/shm/semian
//	environments:
//	  production:
//	    http_default: {tickets: 3, error_threshold: 3, error_timeout: 10s}
//	    mysql_shard_0: {tickets: 5, error_timeout: 30}
//	    http_metrics_internal_80: {disabled: true}
//
// Unset option fields inherit resilience.DefaultOptions. error_timeout
// accepts a Go duration or a number of seconds.
//
// SEMIAN_ENV, SEMIAN_STATE_DIR, SEMIAN_STORE, SEMIAN_LOG_LEVEL and
// SEMIAN_ADMIN_LISTEN override the file. Admin credentials may be given as
// ${VAR} or secretref:env:NAME / secretref:file:PATH; see package secret.
//
// Watcher reloads the file on change and swaps the options behind a
// ReloadingResolver. Resources already opened by a registry keep their
// options until they are reset or destroyed.
package config
