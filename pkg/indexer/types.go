package indexer

import "time"

// ReferralFee is the cumulative fee owed to a referrer for one token.
// The on-chain event carries the new total, not a delta, so persistence
// overwrites the stored amount keyed by (referrer, token).
type ReferralFee struct {
	Referrer    string
	Token       string
	NetworkID   uint64
	Amount      string // human-scaled decimal string
	LastUpdated time.Time
}

// State is the durable progress marker of one named indexer
type State struct {
	IndexerName      string
	LastIndexedBlock uint64
	IsActive         bool
	LastIndexedAt    time.Time
}

// Phase describes where an indexer is in its lifecycle
type Phase string

const (
	PhaseStopped     Phase = "stopped"
	PhaseBackfilling Phase = "backfilling"
	PhasePolling     Phase = "polling"
)
