// Package core contains the crmsync domain contracts, the event ledger state
// machine, and the dispatch, sweep and grade reconciliation logic. Storage,
// transport and scheduling adapters depend on this package; core must not
// depend on them.
package core
