package resolver

import (
	"fmt"

	"github.com/aegis-mobile/synccore/internal/models"
)

// mergeEntities combines both sides of an update conflict. Only kinds with
// a defined reducer can merge; everything else keeps its default strategy.
// The result carries the local identity so the upsert targets the same row.
func mergeEntities(kind models.Kind, local, remote models.Entity) (models.Entity, error) {
	switch kind {
	case models.KindPattern:
		l, lok := local.(*models.Pattern)
		r, rok := remote.(*models.Pattern)
		if !lok || !rok {
			return nil, fmt.Errorf("resolver: pattern merge got %T and %T", local, remote)
		}
		return mergePatterns(l, r), nil
	case models.KindTransaction:
		l, lok := local.(*models.Transaction)
		r, rok := remote.(*models.Transaction)
		if !lok || !rok {
			return nil, fmt.Errorf("resolver: transaction merge got %T and %T", local, remote)
		}
		return mergeTransactions(l, r), nil
	}
	return nil, fmt.Errorf("resolver: no merge reducer for kind %q", kind)
}

// mergePatterns sums observation counts and keeps the strongest signal
// from either side.
func mergePatterns(local, remote *models.Pattern) *models.Pattern {
	merged := *local
	merged.Frequency = local.Frequency + remote.Frequency
	if remote.Confidence > merged.Confidence {
		merged.Confidence = remote.Confidence
	}
	if remote.LastOccurrence.After(merged.LastOccurrence) {
		merged.LastOccurrence = remote.LastOccurrence
	}
	if remote.EventAt.After(merged.EventAt) {
		merged.EventAt = remote.EventAt
	}
	return &merged
}

// mergeTransactions takes the classification from whichever side is more
// confident, and never unblocks a transaction either side blocked.
func mergeTransactions(local, remote *models.Transaction) *models.Transaction {
	var merged models.Transaction
	if remote.Confidence > local.Confidence {
		merged = *remote
		merged.Meta = local.Meta
	} else {
		merged = *local
	}
	merged.Blocked = local.Blocked || remote.Blocked
	if remote.EventAt.After(merged.EventAt) {
		merged.EventAt = remote.EventAt
	}
	return &merged
}
