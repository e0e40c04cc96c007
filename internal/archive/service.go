package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// Service archives produced artifacts and sweeps out expired ones.
// Artifacts are keyed as {scheduleID}/{executionID}/{filename}.
type Service struct {
	backend   Backend
	retention time.Duration
}

func NewService(backend Backend, retention time.Duration) *Service {
	return &Service{
		backend:   backend,
		retention: retention,
	}
}

// Store persists the artifact payload for one execution.
func (s *Service) Store(ctx context.Context, scheduleID, executionID string, artifact *artifacts.Artifact) error {
	name, payload, err := artifactPayload(artifact)
	if err != nil {
		return err
	}

	key := path.Join(scheduleID, executionID, name)
	if err := s.backend.Put(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return fmt.Errorf("archiving artifact %s: %w", key, err)
	}

	log.Debug().
		Str("key", key).
		Int("bytes", len(payload)).
		Msg("Artifact archived")

	return nil
}

// Fetch retrieves a previously archived artifact payload.
func (s *Service) Fetch(ctx context.Context, scheduleID, executionID, name string) ([]byte, error) {
	key := path.Join(scheduleID, executionID, name)

	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

// Sweep removes artifacts older than the retention window.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.retention)
	removed, err := s.backend.Sweep(ctx, cutoff)
	if err != nil {
		return removed, err
	}

	if removed > 0 {
		log.Info().
			Int("removed", removed).
			Time("cutoff", cutoff).
			Msg("Swept expired artifacts")
	}

	return removed, nil
}

func artifactPayload(artifact *artifacts.Artifact) (string, []byte, error) {
	switch artifact.Format {
	case reports.FormatPNG:
		return "report.png", artifact.Screenshot, nil
	case reports.FormatCSV:
		return "report.csv", artifact.CSV, nil
	case reports.FormatText:
		return "report.txt", []byte(artifacts.RenderText(artifact.Table)), nil
	default:
		return "", nil, fmt.Errorf("unknown artifact format %q", artifact.Format)
	}
}
