package ai

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/steven-mosley/idleverse/internal/game/character"
)

// TypeProfile holds the attribute bonuses applied to one AI type at spawn.
type TypeProfile struct {
	// Modifiers maps attribute name to bonus, e.g. "strength": 3.
	Modifiers map[string]int `yaml:"modifiers"`
}

// NamePools are the fragments AI names are built from.
type NamePools struct {
	Prefixes []string `yaml:"prefixes"`
	Names    []string `yaml:"names"`
	Titles   []string `yaml:"titles"`
}

// Profiles is the AI content loaded from YAML.
type Profiles struct {
	Types map[character.AIType]TypeProfile `yaml:"types"`
	Names NamePools                        `yaml:"names"`
	// Jitter is the +/- range of random attribute variation after bonuses.
	Jitter int `yaml:"jitter"`
	// AttributeMin and AttributeMax clamp final attributes.
	AttributeMin int `yaml:"attribute_min"`
	AttributeMax int `yaml:"attribute_max"`
}

// Validate checks that profiles can drive spawning.
//
// Postcondition: Returns nil if every AI type has a profile and the name pools are usable.
func (p *Profiles) Validate() error {
	var errs []error
	for _, t := range character.AITypes {
		if _, ok := p.Types[t]; !ok {
			errs = append(errs, fmt.Errorf("missing profile for ai type %q", t))
		}
	}
	for t := range p.Types {
		known := false
		for _, k := range character.AITypes {
			known = known || k == t
		}
		if !known {
			errs = append(errs, fmt.Errorf("unknown ai type %q", t))
		}
	}
	if len(p.Names.Names) == 0 {
		errs = append(errs, errors.New("names.names must not be empty"))
	}
	if len(p.Names.Prefixes) == 0 && len(p.Names.Titles) == 0 {
		errs = append(errs, errors.New("at least one of names.prefixes or names.titles is required"))
	}
	if p.Jitter < 0 {
		errs = append(errs, fmt.Errorf("jitter must be >= 0, got %d", p.Jitter))
	}
	if p.AttributeMin < 1 || p.AttributeMax < p.AttributeMin {
		errs = append(errs, fmt.Errorf("attribute bounds [%d, %d] invalid", p.AttributeMin, p.AttributeMax))
	}
	return errors.Join(errs...)
}

// LoadProfiles reads and validates a profiles YAML file.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns valid Profiles or a non-nil error.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ai profiles %s: %w", path, err)
	}
	return LoadProfilesFromBytes(data)
}

// LoadProfilesFromBytes parses and validates profiles YAML.
func LoadProfilesFromBytes(data []byte) (*Profiles, error) {
	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing ai profiles: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating ai profiles: %w", err)
	}
	return &p, nil
}

// DefaultProfiles returns the built-in profiles used when no file is configured.
func DefaultProfiles() *Profiles {
	return &Profiles{
		Types: map[character.AIType]TypeProfile{
			character.Gatherer: {Modifiers: map[string]int{"strength": 3, "constitution": 2}},
			character.Explorer: {Modifiers: map[string]int{"dexterity": 3, "wisdom": 2}},
			character.Defender: {Modifiers: map[string]int{"strength": 4, "constitution": 3, "dexterity": 2}},
			character.Trader:   {Modifiers: map[string]int{"charisma": 4, "intelligence": 3}},
		},
		Names: NamePools{
			Prefixes: []string{"Brave", "Swift", "Wise", "Noble", "Ancient", "Wild", "Calm", "Fierce", "Mighty", "Gentle"},
			Names: []string{"Wolf", "Eagle", "Bear", "Fox", "Owl", "Deer", "Hawk", "Tiger", "Lion", "Dragon",
				"Serpent", "Raven", "Hunter", "Seeker", "Walker", "Strider", "Warden", "Guardian"},
			Titles: []string{"of the Forest", "of the Mountain", "of the Valley", "the Gatherer", "the Wise",
				"the Brave", "the Swift", "the Strong", "the Cunning"},
		},
		Jitter:       2,
		AttributeMin: 5,
		AttributeMax: 20,
	}
}
