// Package server wires configuration, the startup migration engine, the
// SQLite store and the JSON API into a running HTTP server with graceful
// shutdown. Migration always completes before the listener opens.
package server
