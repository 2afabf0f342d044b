// Package history keeps a SQLite record of every watchdog run and of each
// mod update that triggered a restart, so operators can see when and why the
// server was restarted.
package history
