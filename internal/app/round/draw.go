package round

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/domain/settings"
)

// ErrInvalidBounds is returned when a random draw is requested over malformed bounds.
var ErrInvalidBounds = errors.New("invalid duration bounds")

// Drawer selects timer durations. It is not safe for concurrent use.
type Drawer struct {
	rng *rand.Rand
}

// NewDrawer creates a drawer over src. A nil src seeds from the wall clock.
func NewDrawer(src rand.Source) *Drawer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Drawer{rng: rand.New(src)}
}

// Draw returns fixed unmodified when random is false, otherwise a uniform
// value in [bounds.Min, bounds.Max]. Malformed bounds fall back to fixed
// and report ErrInvalidBounds.
func (d *Drawer) Draw(bounds settings.Bounds, fixed int, random bool) (int, error) {
	if !random {
		return fixed, nil
	}
	if !bounds.Valid() {
		return fixed, errors.Wrapf(ErrInvalidBounds, "bounds %d..%d", bounds.Min, bounds.Max)
	}
	return bounds.Min + d.rng.Intn(bounds.Max-bounds.Min+1), nil
}

// DrawTimers draws the song and round timers independently.
func (d *Drawer) DrawTimers(cfg settings.RoundConfig) (song, round int) {
	song, err := d.Draw(cfg.SongDurationBounds, cfg.FixedSongDuration, cfg.IsSongDurationRandom)
	if err != nil {
		zlog.Warn().Err(err).Msgf("round: song draw failed, using fixed duration %d", song)
	}
	round, err = d.Draw(cfg.RoundDurationBounds, cfg.FixedRoundDuration, cfg.IsRoundDurationRandom)
	if err != nil {
		zlog.Warn().Err(err).Msgf("round: round draw failed, using fixed duration %d", round)
	}
	return song, round
}
