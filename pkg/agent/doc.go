// Package agent binds a model, composed instructions and the tool catalog
// into a session that executes one conversation turn per call.
//
// Invariants:
//   - Run never mutates the history it is given; a turn either returns a
//     complete superseding state or no state at all.
//   - Tool failures are folded back into the model's context, never raised as
//     session errors; only a dead provider channel is fatal.
//   - Closing the session closes the tool-provider connector, on every path.
package agent
