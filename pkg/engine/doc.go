// Package engine is the heart of the sync server: it routes inbound
// frames from terminals, correlates replies with the pending commands
// they answer, and runs the reconciliation schedulers that converge each
// terminal toward the state recorded in the store.
//
// The store is the single source of desired state. Outbound work is not
// queued durably anywhere else: sync flags on access-grant rows say what
// still needs pushing, and the schedulers re-derive the pending command
// set from them on every tick. A flag is cleared only when the terminal
// confirms the matching command, so a crash or reconnect can at worst
// cause a redundant push, never a lost one.
package engine
