package round

import (
	"github.com/osa030/musicalchairs/internal/domain/settings"
)

// seqSource is a rand.Source whose Intn(n) yields the queued values in
// order (each must be < n), then repeats the last one.
type seqSource struct {
	vals []int
	i    int
}

func (s *seqSource) Int63() int64 {
	v := 0
	if len(s.vals) > 0 {
		idx := s.i
		if idx >= len(s.vals) {
			idx = len(s.vals) - 1
		}
		v = s.vals[idx]
		s.i++
	}
	return int64(v) << 32
}

func (s *seqSource) Seed(int64) {}

type staticConfig struct {
	cfg settings.RoundConfig
}

func (s *staticConfig) Snapshot() settings.RoundConfig {
	return s.cfg
}

type recorder struct {
	cmds []Command
}

func (r *recorder) Dispatch(cmd Command) {
	r.cmds = append(r.cmds, cmd)
}

func (r *recorder) count(t CommandType) int {
	n := 0
	for _, c := range r.cmds {
		if c.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) types() []CommandType {
	out := make([]CommandType, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c.Type)
	}
	return out
}

func (r *recorder) last() Command {
	return r.cmds[len(r.cmds)-1]
}

func fixedConfig(song, round int) settings.RoundConfig {
	return settings.RoundConfig{
		SongDurationBounds:    settings.Bounds{Min: 1, Max: 60},
		FixedSongDuration:     song,
		RoundDurationBounds:   settings.Bounds{Min: 1, Max: 60},
		FixedRoundDuration:    round,
		IsSongTimerDisplayed:  true,
		IsRoundTimerDisplayed: true,
	}
}

func newTestMachine(cfg settings.RoundConfig, vals ...int) (*Machine, *recorder, *staticConfig) {
	src := &staticConfig{cfg: cfg}
	rec := &recorder{}
	return NewMachine(src, NewDrawer(&seqSource{vals: vals}), rec), rec, src
}

func tickN(m *Machine, n int) {
	for i := 0; i < n; i++ {
		m.Tick()
	}
}
