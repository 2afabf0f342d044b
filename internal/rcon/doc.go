// Package rcon talks to the game server's remote console.
//
// Every operation opens its own connection, runs one command and closes it.
// Only one run is active at a time, so connections are never pooled.
package rcon
