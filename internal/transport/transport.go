package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aegis-mobile/synccore/internal/models"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
)

// Envelope is the wire form of one record. The payload is the full entity
// JSON; the identifying fields ride alongside so the backend can route and
// dedupe without opening the payload. Uploads are idempotent on (table, id).
type Envelope struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user_id"`
	EventAt time.Time       `json:"event_at"`
	Payload json.RawMessage `json:"payload"`
}

// Remote is the backend the device syncs against.
type Remote interface {
	// DownloadAll fetches every record of a kind for the current user.
	DownloadAll(ctx context.Context, kind models.Kind) ([]Envelope, error)
	// DownloadSince fetches records changed after the given instant.
	DownloadSince(ctx context.Context, kind models.Kind, since time.Time) ([]Envelope, error)
	// Upload pushes a batch of local records. Re-sending a batch that was
	// already applied must be harmless.
	Upload(ctx context.Context, kind models.Kind, batch []Envelope) error
}

// EncodeEntity wraps a typed record for the wire.
func EncodeEntity(entity models.Entity) (Envelope, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return Envelope{}, apperrors.ErrSerialization.WithInternal(err)
	}
	meta := entity.Metadata()
	return Envelope{
		ID:      meta.ID,
		UserID:  meta.UserID,
		EventAt: meta.EventAt,
		Payload: raw,
	}, nil
}

// DecodeEnvelope unwraps a wire record into the kind's typed struct. The
// envelope's identity fields win over whatever the payload carries.
func DecodeEnvelope(kind models.Kind, env Envelope) (models.Entity, error) {
	entity := kind.New()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, entity); err != nil {
			return nil, apperrors.ErrSerialization.WithInternal(err)
		}
	}
	meta := entity.Metadata()
	meta.ID = env.ID
	meta.UserID = env.UserID
	meta.EventAt = env.EventAt
	return entity, nil
}
