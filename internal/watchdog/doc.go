// Package watchdog wires the catalog fetcher, snapshot detector, restart
// orchestrator and remote console into the operating modes of a single run:
// one-off broadcast, refresh, dry-run check and the default check.
package watchdog
