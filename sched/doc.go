// Package sched provides pluggable learning-rate schedules for an iterative
// training loop.
//
// # Reading Guide
//
// Start with these files to understand the package:
//   - record.go: EpochRecord, the per-epoch learning rate + error metrics value
//   - history.go: History, the epoch-indexed store with YAML persistence
//   - policy.go: the RatePolicy interface, its three implementations, and the
//     name-based factory
//   - config.go: the Config key-value capability and FromConfig assembly
//
// # Usage
//
// A training loop interacts with one History per run, once per epoch:
//
//	rate, err := h.GetRate(epoch)   // before running the epoch
//	h.SetError(epoch, metrics)      // after the epoch completed
//	h.Save()                        // best-effort checkpoint
//
// GetRate consults the attached RatePolicy only for epochs that have no record
// yet and caches the result, so a resumed run replays the stored schedule
// instead of recomputing it.
package sched
