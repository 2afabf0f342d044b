// Package snapshot persists the last observed update time of every enabled
// mod and decides whether a fresh catalog fetch has drifted from it.
//
// The snapshot file is only ever replaced as a whole: it is written to a
// temporary file in the same directory and renamed into place.
package snapshot
