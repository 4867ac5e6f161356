// Package cmd implements the command-line interface of sKV. It provides the
// server command and a set of client commands to interact with a running
// server.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the sKV server
//   - kv: Client commands for the store (get, set, del, has, getall, scan,
//     mget, mset, mdel, mhas), publish/subscribe (pub, sub) and a
//     performance test (perf)
//   - config: Writes the default server configuration as YAML
//   - util: Shared utilities for flags, environment variables and config files (internal use)
//
// Every flag can also be set with an environment variable prefixed with SKV_
// (e.g. SKV_ENDPOINT). A .env file in the working directory is loaded on start.
//
// See skv --help for a list of all commands.
package cmd
