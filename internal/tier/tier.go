// Package tier defines the storage tiers objects move between and the
// transitions allowed among them.
package tier

import (
	"fmt"
	"strings"
)

// Tier identifies which storage backend an object resides in.
type Tier int

const (
	Hot Tier = iota
	Warm
	Cold
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "Hot"
	case Warm:
		return "Warm"
	case Cold:
		return "Cold"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= Hot && t <= Cold
}

// Parse converts a tier name ("Hot", "warm", "COLD") to a Tier.
func Parse(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hot":
		return Hot, nil
	case "warm":
		return Warm, nil
	case "cold":
		return Cold, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// adjacency lists the single-hop transitions a plan may contain.
// Hot and Cold are never adjacent: reaching one from the other takes two cycles.
var adjacency = map[Tier][]Tier{
	Hot:  {Warm},
	Warm: {Cold, Hot},
	Cold: {Warm},
}

// CanMove reports whether a direct from→to transition is legal.
func CanMove(from, to Tier) bool {
	for _, t := range adjacency[from] {
		if t == to {
			return true
		}
	}
	return false
}

// All returns the tiers hottest first.
func All() []Tier {
	return []Tier{Hot, Warm, Cold}
}
