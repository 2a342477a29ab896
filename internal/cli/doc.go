// Package cli is responsible for the command tree, merging flags, the config
// file and the environment into the application's configuration, and
// handling process-level concerns like exit codes.
package cli
