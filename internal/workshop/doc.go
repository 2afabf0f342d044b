// Package workshop fetches mod metadata from the Steam Workshop catalog.
//
// Ids are requested in bounded batches. Each batch is retried on its own; a
// batch that keeps failing is dropped and the ids it carried are simply absent
// from the result, so one bad batch never discards the others.
package workshop
