package models

import "time"

// Strategy identifies how a local/remote conflict is reconciled.
type Strategy string

const (
	StrategyServerWins Strategy = "server_wins"
	StrategyClientWins Strategy = "client_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// Kind is the closed set of domain entity kinds the sync core manages.
// Each kind carries its own table metadata, default conflict strategy,
// and retention policy; switches over Kind are expected to be exhaustive.
type Kind int

const (
	KindTransaction Kind = iota
	KindConversation
	KindPattern
	KindGuardianMessage
	KindSetting
	KindEmergencyContact
)

// Kinds returns every entity kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindTransaction,
		KindConversation,
		KindPattern,
		KindGuardianMessage,
		KindSetting,
		KindEmergencyContact,
	}
}

// Table returns the local store table backing the kind.
func (k Kind) Table() string {
	switch k {
	case KindTransaction:
		return "transactions"
	case KindConversation:
		return "conversations"
	case KindPattern:
		return "patterns"
	case KindGuardianMessage:
		return "guardian_messages"
	case KindSetting:
		return "settings"
	case KindEmergencyContact:
		return "emergency_contacts"
	}
	return "unknown"
}

func (k Kind) String() string { return k.Table() }

// DefaultStrategy returns the conflict strategy applied to the kind unless
// the caller overrides it. Shared/system data follows the server; user
// preferences follow the client; patterns accumulate and are merged.
func (k Kind) DefaultStrategy() Strategy {
	switch k {
	case KindTransaction, KindConversation, KindGuardianMessage:
		return StrategyServerWins
	case KindSetting, KindEmergencyContact:
		return StrategyClientWins
	case KindPattern:
		return StrategyMerge
	}
	return StrategyServerWins
}

// New returns a zero value of the typed entity for the kind, ready for decoding.
func (k Kind) New() Entity {
	switch k {
	case KindTransaction:
		return &Transaction{}
	case KindConversation:
		return &Conversation{}
	case KindPattern:
		return &Pattern{}
	case KindGuardianMessage:
		return &GuardianMessage{}
	case KindSetting:
		return &Setting{}
	case KindEmergencyContact:
		return &EmergencyContact{}
	}
	return nil
}

// Retention returns how long synced rows of the kind are kept before the
// daily cleanup removes them. Zero means retained indefinitely.
func (k Kind) Retention() time.Duration {
	switch k {
	case KindTransaction:
		return 90 * 24 * time.Hour
	case KindConversation:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// KindForTable maps a table name back to its kind.
func KindForTable(table string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.Table() == table {
			return k, true
		}
	}
	return 0, false
}
