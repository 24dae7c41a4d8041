// Package settings provides the round configuration entities.
package settings

import (
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// ErrInvalidSettings marks records or bounds that cannot be applied.
var ErrInvalidSettings = errors.New("invalid settings")

// Bounds is an inclusive range of seconds.
type Bounds struct {
	Min int `yaml:"min" validate:"gte=1"`
	Max int `yaml:"max" validate:"gte=1"`
}

// Valid reports whether the bounds are non-empty and start at one second or later.
func (b Bounds) Valid() bool {
	return b.Min >= 1 && b.Min <= b.Max
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// Record is the flat persisted settings record.
// The mapstructure keys are the persistence schema and must not change.
type Record struct {
	CurrentSongTimer       int  `mapstructure:"currentSongTimer" default:"15" validate:"gte=1"`
	CurrentRoundTimer      int  `mapstructure:"currentRoundTimer" default:"10" validate:"gte=1"`
	IsSongTimerRandom      bool `mapstructure:"isSongTimerRandom" default:"true"`
	IsRoundTimerRandom     bool `mapstructure:"isRoundTimerRandom"`
	IsSongTimerDisplayed   bool `mapstructure:"isSongTimerDisplayed" default:"true"`
	IsRoundTimerDisplayed  bool `mapstructure:"isRoundTimerDisplayed" default:"true"`
	IsShuffled             bool `mapstructure:"isShuffled"`
	ShouldTimerResetOnSkip bool `mapstructure:"shouldTimerResetOnSkip" default:"true"`
}

// Keys lists the persisted keys in schema order.
var Keys = []string{
	"currentSongTimer",
	"currentRoundTimer",
	"isSongTimerRandom",
	"isRoundTimerRandom",
	"isSongTimerDisplayed",
	"isRoundTimerDisplayed",
	"isShuffled",
	"shouldTimerResetOnSkip",
}

// DefaultRecord returns the record used when nothing has been persisted yet.
func DefaultRecord() Record {
	var r Record
	// Only fails on malformed default tags.
	if err := defaults.Set(&r); err != nil {
		panic(err)
	}
	return r
}

// DecodeRecord decodes a flat key/value record. Values may be typed or
// their string form; missing keys keep their defaults. Unknown keys and
// fractional seconds are rejected.
func DecodeRecord(values map[string]any) (Record, error) {
	r := DefaultRecord()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.DecodeHookFuncType(wholeSecondsHook),
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(values); err != nil {
		return Record{}, errors.Mark(errors.Wrap(err, "failed to decode settings record"), ErrInvalidSettings)
	}
	return r, nil
}

// wholeSecondsHook refuses to truncate floats into int fields.
func wholeSecondsHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int {
		return data, nil
	}
	if from.Kind() != reflect.Float32 && from.Kind() != reflect.Float64 {
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if f != math.Trunc(f) {
		return nil, errors.Newf("%v is not a whole number of seconds", f)
	}
	return int(f), nil
}

// ToMap encodes the record into its flat key/value form.
func (r Record) ToMap() (map[string]any, error) {
	values := make(map[string]any, len(Keys))
	if err := mapstructure.Decode(r, &values); err != nil {
		return nil, errors.Wrap(err, "failed to encode settings record")
	}
	return values, nil
}

// Validate checks the record against the configured bounds.
// Fixed durations must lie inside their bounds.
func (r Record) Validate(song, round Bounds) error {
	if err := validator.New().Struct(r); err != nil {
		return errors.Mark(errors.Wrap(err, "struct validation failed"), ErrInvalidSettings)
	}
	if !song.Valid() {
		return errors.Mark(errors.Newf("song bounds %d..%d are malformed", song.Min, song.Max), ErrInvalidSettings)
	}
	if !round.Valid() {
		return errors.Mark(errors.Newf("round bounds %d..%d are malformed", round.Min, round.Max), ErrInvalidSettings)
	}
	if !song.Contains(r.CurrentSongTimer) {
		return errors.Mark(errors.Newf("currentSongTimer %d outside %d..%d", r.CurrentSongTimer, song.Min, song.Max), ErrInvalidSettings)
	}
	if !round.Contains(r.CurrentRoundTimer) {
		return errors.Mark(errors.Newf("currentRoundTimer %d outside %d..%d", r.CurrentRoundTimer, round.Min, round.Max), ErrInvalidSettings)
	}
	return nil
}

// RoundConfig is the immutable snapshot the round machine reads at reset points.
type RoundConfig struct {
	SongDurationBounds      Bounds
	FixedSongDuration       int
	RoundDurationBounds     Bounds
	FixedRoundDuration      int
	IsSongDurationRandom    bool
	IsRoundDurationRandom   bool
	IsSongTimerDisplayed    bool
	IsRoundTimerDisplayed   bool
	IsShuffled              bool
	ResetTimersOnManualSkip bool
}

// NewRoundConfig combines a persisted record with the configured bounds.
func NewRoundConfig(r Record, song, round Bounds) RoundConfig {
	return RoundConfig{
		SongDurationBounds:      song,
		FixedSongDuration:       r.CurrentSongTimer,
		RoundDurationBounds:     round,
		FixedRoundDuration:      r.CurrentRoundTimer,
		IsSongDurationRandom:    r.IsSongTimerRandom,
		IsRoundDurationRandom:   r.IsRoundTimerRandom,
		IsSongTimerDisplayed:    r.IsSongTimerDisplayed,
		IsRoundTimerDisplayed:   r.IsRoundTimerDisplayed,
		IsShuffled:              r.IsShuffled,
		ResetTimersOnManualSkip: r.ShouldTimerResetOnSkip,
	}
}

// Record returns the persisted part of the configuration.
func (c RoundConfig) Record() Record {
	return Record{
		CurrentSongTimer:       c.FixedSongDuration,
		CurrentRoundTimer:      c.FixedRoundDuration,
		IsSongTimerRandom:      c.IsSongDurationRandom,
		IsRoundTimerRandom:     c.IsRoundDurationRandom,
		IsSongTimerDisplayed:   c.IsSongTimerDisplayed,
		IsRoundTimerDisplayed:  c.IsRoundTimerDisplayed,
		IsShuffled:             c.IsShuffled,
		ShouldTimerResetOnSkip: c.ResetTimersOnManualSkip,
	}
}

// Clamp returns a copy with the fixed durations moved into the bounds.
// Malformed bounds leave the value untouched.
func (r Record) Clamp(song, round Bounds) Record {
	r.CurrentSongTimer = song.clamp(r.CurrentSongTimer)
	r.CurrentRoundTimer = round.clamp(r.CurrentRoundTimer)
	return r
}

func (b Bounds) clamp(v int) int {
	if !b.Valid() {
		return v
	}
	return min(max(v, b.Min), b.Max)
}
