package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studiobook/studiobook-api/internal/pkg/storage"
)

const keyPrefix = "incidents/"

// Service writes incidents as JSON objects to object storage.
type Service struct {
	store storage.Storage
	now   func() time.Time
}

// NewService creates an incident reporter.
func NewService(store storage.Storage) *Service {
	return &Service{store: store, now: time.Now}
}

// Report persists the incident. Failures are logged and returned.
func (s *Service) Report(ctx context.Context, inc Incident) error {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}

	log.Warn().
		Str("incident_id", inc.ID.String()).
		Str("kind", string(inc.Kind)).
		Str("subject", inc.Subject).
		Str("message", inc.Message).
		Msg("Operator follow-up required")

	if s.store == nil {
		return nil
	}

	body, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}
	if err := s.store.Put(ctx, incidentKey(inc), bytes.NewReader(body), "application/json"); err != nil {
		log.Error().Err(err).Str("incident_id", inc.ID.String()).Msg("Failed to store incident")
		return err
	}
	return nil
}

// List returns the incidents recorded on the given UTC day.
func (s *Service) List(ctx context.Context, day time.Time) ([]Incident, error) {
	keys, err := s.store.List(ctx, keyPrefix+day.UTC().Format("2006/01/02/"))
	if err != nil {
		return nil, err
	}

	out := make([]Incident, 0, len(keys))
	for _, key := range keys {
		rc, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read incident %s: %w", key, err)
		}
		var inc Incident
		if err := json.Unmarshal(body, &inc); err != nil {
			return nil, fmt.Errorf("decode incident %s: %w", key, err)
		}
		out = append(out, inc)
	}
	return out, nil
}

func incidentKey(inc Incident) string {
	return fmt.Sprintf("%s%s/%s-%s.json", keyPrefix, inc.CreatedAt.UTC().Format("2006/01/02"), inc.Kind, inc.ID)
}
