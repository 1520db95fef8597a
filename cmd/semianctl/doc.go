// Command semianctl inspects and operates semian's shared resource state.
//
// Usage:
//
//	semianctl status [id...]        print the state of every or the named resources
//	semianctl reset <id>            close the circuit and restore all tickets
//	semianctl destroy <id>          remove the shared state for an identifier
//	semianctl serve                 run the admin HTTP API
//	semianctl probe <url>           send guarded requests to a URL
//	semianctl token                 issue an admin bearer token
//	semianctl validate              load and check the configuration
//
// Every command reads the file named by --config (or SEMIAN_CONFIG) and the
// SEMIAN_* overrides documented in package config.
package main
