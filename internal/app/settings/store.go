// Package settings provides the live round settings store.
package settings

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	model "github.com/osa030/musicalchairs/internal/domain/settings"
)

// Repository persists the flat settings record.
type Repository interface {
	// LoadSettings returns nil values and no error when nothing was saved yet.
	LoadSettings(ctx context.Context) (map[string]any, error)
	SaveSettings(ctx context.Context, values map[string]any) error
}

// Store holds the live RoundConfig. Readers get copies; changes are
// validated and persisted before they become visible.
type Store struct {
	// writeMu serializes Apply and Update across validate, save and publish.
	writeMu sync.Mutex

	mu      sync.RWMutex
	repo    Repository
	song    model.Bounds
	round   model.Bounds
	current model.RoundConfig

	subMu sync.Mutex
	subs  map[string]chan model.RoundConfig
}

// NewStore creates a store holding the default record.
func NewStore(repo Repository, song, round model.Bounds) *Store {
	return &Store{
		repo:    repo,
		song:    song,
		round:   round,
		current: model.NewRoundConfig(model.DefaultRecord().Clamp(song, round), song, round),
		subs:    make(map[string]chan model.RoundConfig),
	}
}

// Load reads the persisted record. A missing record keeps the defaults; a
// record that no longer fits the configured bounds is clamped into them.
func (s *Store) Load(ctx context.Context) error {
	if !s.song.Valid() || !s.round.Valid() {
		return errors.Mark(errors.Newf("configured bounds song=%d..%d round=%d..%d are malformed",
			s.song.Min, s.song.Max, s.round.Min, s.round.Max), model.ErrInvalidSettings)
	}

	values, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load settings")
	}
	if values == nil {
		zlog.Info().Msg("settings: no persisted record, using defaults")
		return nil
	}

	rec, err := model.DecodeRecord(values)
	if err != nil {
		zlog.Warn().Err(err).Msg("settings: persisted record unreadable, using defaults")
		return nil
	}
	if err := rec.Validate(s.song, s.round); err != nil {
		zlog.Warn().Err(err).Msg("settings: persisted record out of bounds, clamping")
		rec = rec.Clamp(s.song, s.round)
	}

	s.publish(model.NewRoundConfig(rec, s.song, s.round))
	zlog.Info().Msgf("settings: loaded: song=%d round=%d", rec.CurrentSongTimer, rec.CurrentRoundTimer)
	return nil
}

// Snapshot returns the current configuration.
func (s *Store) Snapshot() model.RoundConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Bounds returns the configured song and round bounds.
func (s *Store) Bounds() (song, round model.Bounds) {
	return s.song, s.round
}

// Apply validates, persists, and publishes rec. On error the previous
// configuration stays live.
func (s *Store) Apply(ctx context.Context, rec model.Record) (model.RoundConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.applyLocked(ctx, rec)
}

// Update derives a new record from the live one and applies it. Concurrent
// updates see each other's changes.
func (s *Store) Update(ctx context.Context, fn func(model.Record) (model.Record, error)) (model.RoundConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := fn(s.Snapshot().Record())
	if err != nil {
		return s.Snapshot(), err
	}
	return s.applyLocked(ctx, rec)
}

// applyLocked must be called with writeMu held.
func (s *Store) applyLocked(ctx context.Context, rec model.Record) (model.RoundConfig, error) {
	if err := rec.Validate(s.song, s.round); err != nil {
		return s.Snapshot(), err
	}

	values, err := rec.ToMap()
	if err != nil {
		return s.Snapshot(), err
	}
	if err := s.repo.SaveSettings(ctx, values); err != nil {
		return s.Snapshot(), errors.Wrap(err, "failed to save settings")
	}

	cfg := model.NewRoundConfig(rec, s.song, s.round)
	s.publish(cfg)
	zlog.Info().Msgf("settings: applied: song=%d round=%d song_random=%t round_random=%t",
		rec.CurrentSongTimer, rec.CurrentRoundTimer, rec.IsSongTimerRandom, rec.IsRoundTimerRandom)
	return cfg, nil
}

// Subscribe returns a channel that always holds the latest configuration
// the subscriber has not read yet, and the subscription ID.
func (s *Store) Subscribe() (<-chan model.RoundConfig, string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := uuid.New().String()
	ch := make(chan model.RoundConfig, 1)
	s.subs[id] = ch
	return ch, id
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

func (s *Store) publish(cfg model.RoundConfig) {
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// Latest wins
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}
