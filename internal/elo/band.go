// Package elo defines the skill bands used to stratify sample players and datasets.
package elo

import (
	"fmt"
	"strings"
)

// Band is a named skill-level bucket.
type Band int

const (
	Beginner Band = iota
	Intermediate
	Advanced
	Expert
	Master
)

// NumBands is the number of defined bands.
const NumBands = 5

var bandNames = [NumBands]string{"beginner", "intermediate", "advanced", "expert", "master"}

// All returns every band from weakest to strongest.
func All() []Band {
	return []Band{Beginner, Intermediate, Advanced, Expert, Master}
}

func (b Band) String() string {
	if b < 0 || int(b) >= NumBands {
		return fmt.Sprintf("band(%d)", int(b))
	}
	return bandNames[b]
}

// Valid reports whether b is one of the defined bands.
func (b Band) Valid() bool {
	return b >= Beginner && b <= Master
}

// ParseBand converts a band name to a Band.
func ParseBand(s string) (Band, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range bandNames {
		if n == name {
			return Band(i), nil
		}
	}
	return 0, fmt.Errorf("unknown elo band %q", s)
}

func (b Band) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid elo band %d", int(b))
	}
	return []byte(b.String()), nil
}

func (b *Band) UnmarshalText(text []byte) error {
	parsed, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// BandConfig describes the rating range of a band and how many players it should hold.
type BandConfig struct {
	Band   Band `yaml:"band" json:"band"`
	MinElo int  `yaml:"min_elo" json:"minElo"`
	MaxElo int  `yaml:"max_elo" json:"maxElo"`
	Target int  `yaml:"target" json:"target"`
}

// Contains reports whether rating falls inside the band (inclusive).
func (c BandConfig) Contains(rating int) bool {
	return rating >= c.MinElo && rating <= c.MaxElo
}

// DefaultBands returns the default band layout.
func DefaultBands() []BandConfig {
	return []BandConfig{
		{Band: Beginner, MinElo: 0, MaxElo: 1199, Target: 4},
		{Band: Intermediate, MinElo: 1200, MaxElo: 1599, Target: 4},
		{Band: Advanced, MinElo: 1600, MaxElo: 1999, Target: 4},
		{Band: Expert, MinElo: 2000, MaxElo: 2399, Target: 3},
		{Band: Master, MinElo: 2400, MaxElo: 3500, Target: 3},
	}
}

// Classify returns the band whose range contains rating.
func Classify(bands []BandConfig, rating int) (Band, bool) {
	for _, c := range bands {
		if c.Contains(rating) {
			return c.Band, true
		}
	}
	return 0, false
}

// Lookup returns the configuration for band b.
func Lookup(bands []BandConfig, b Band) (BandConfig, bool) {
	for _, c := range bands {
		if c.Band == b {
			return c, true
		}
	}
	return BandConfig{}, false
}
