package models

import "time"

// Meta carries the identifying fields shared by every domain entity.
type Meta struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	EventAt time.Time `json:"event_at"`
}

// Metadata implements the Entity interface for embedding structs. The
// accessor is not called Meta: that name belongs to the embedded field,
// which keeps the shared columns inline in the JSON payload.
func (m *Meta) Metadata() *Meta { return m }

// Entity is a typed domain record managed by the local store. The store is
// the only place entities are (de)serialized; everything above it works
// with the typed structs.
type Entity interface {
	Kind() Kind
	Metadata() *Meta
}

var (
	_ Entity = (*Transaction)(nil)
	_ Entity = (*Conversation)(nil)
	_ Entity = (*Pattern)(nil)
	_ Entity = (*GuardianMessage)(nil)
	_ Entity = (*Setting)(nil)
	_ Entity = (*EmergencyContact)(nil)
)

// Transaction is a guarded payment or transfer observed on the device.
type Transaction struct {
	Meta
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
	Merchant    string  `json:"merchant"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Blocked     bool    `json:"blocked"`
}

func (*Transaction) Kind() Kind { return KindTransaction }

// Conversation is a single AI-assistant exchange message.
type Conversation struct {
	Meta
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
}

func (*Conversation) Kind() Kind { return KindConversation }

// Pattern is an accumulated spending/behaviour pattern.
type Pattern struct {
	Meta
	Label          string    `json:"label"`
	Frequency      int64     `json:"frequency"`
	Confidence     float64   `json:"confidence"`
	LastOccurrence time.Time `json:"last_occurrence"`
}

func (*Pattern) Kind() Kind { return KindPattern }

// GuardianMessage is a note exchanged with a guardian account.
type GuardianMessage struct {
	Meta
	GuardianID   string `json:"guardian_id"`
	Body         string `json:"body"`
	Severity     string `json:"severity"`
	Acknowledged bool   `json:"acknowledged"`
}

func (*GuardianMessage) Kind() Kind { return KindGuardianMessage }

// Setting is a user preference key/value pair.
type Setting struct {
	Meta
	Key   string `json:"key"`
	Value string `json:"value"`
	Scope string `json:"scope,omitempty"`
}

func (*Setting) Kind() Kind { return KindSetting }

// EmergencyContact is a person reachable when guarded activity triggers.
type EmergencyContact struct {
	Meta
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation,omitempty"`
	Priority int    `json:"priority"`
}

func (*EmergencyContact) Kind() Kind { return KindEmergencyContact }
