// Package restart drives a graceful server restart once mod drift has been
// detected: warn players on a countdown, stop early when the server empties,
// evict stragglers, then save and stop.
//
// Past the decision to restart every console command is best effort: a
// failed broadcast, kick, save or stop is logged and the sequence carries on.
package restart
