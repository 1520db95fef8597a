// Package secret resolves secret references found in configuration values.
//
// Admin credentials (API keys, the JWT signing secret) are never written to
// the config file in clear. Instead a value names where to find them:
//
//	admin:
//	  jwt:
//	    secret: secretref:env:SEMIAN_JWT_SECRET
//	  api_keys:
//	    - key: secretref:file:/run/secrets/semian-ops-key
//
// Values are first expanded with ExpandEnv, so ${VAR} works too.
// Two providers are built in: "env" reads an environment variable and
// "file" reads a file, trimming trailing newlines.
package secret
