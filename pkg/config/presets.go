package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/lokutor-ai/promptdj/pkg/engine"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultPresets []byte

// Presets is a prompt palette.
type Presets struct {
	// InitialActive is how many prompts are switched on at random when the
	// palette is first loaded. Zero keeps the weights as written.
	InitialActive int             `yaml:"initial_active"`
	Prompts       []engine.Prompt `yaml:"prompts"`
}

// LoadPresets reads the YAML palette at path.
func LoadPresets(path string) (*Presets, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadPresetsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadPresetsFromReader decodes a YAML palette from r and validates it.
func LoadPresetsFromReader(r io.Reader) (*Presets, error) {
	p := &Presets{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultPresets returns the built-in sixteen-prompt palette.
func DefaultPresets() *Presets {
	p, err := LoadPresetsFromReader(bytes.NewReader(defaultPresets))
	if err != nil {
		panic(fmt.Sprintf("config: built-in presets: %v", err))
	}
	return p
}

// Validate checks the palette. It returns a joined error listing all
// failures found.
func (p *Presets) Validate() error {
	var errs []error

	if len(p.Prompts) == 0 {
		errs = append(errs, errors.New("prompts: at least one prompt is required"))
	}
	if p.InitialActive < 0 || p.InitialActive > len(p.Prompts) {
		errs = append(errs, fmt.Errorf("initial_active %d outside [0, %d]", p.InitialActive, len(p.Prompts)))
	}

	seen := make(map[string]bool, len(p.Prompts))
	for i, prompt := range p.Prompts {
		if prompt.Text == "" {
			errs = append(errs, fmt.Errorf("prompts[%d]: text is required", i))
		}
		if prompt.ID == "" {
			prompt.ID = fmt.Sprintf("prompt-%d", i)
		}
		if seen[prompt.ID] {
			errs = append(errs, fmt.Errorf("prompts[%d]: duplicate id %q", i, prompt.ID))
		}
		seen[prompt.ID] = true
		if err := prompt.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("prompts[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// PromptSet builds the engine prompt set. Missing ids become "prompt-<i>".
// When InitialActive is set, every weight is reset and that many prompts,
// drawn with rng, get weight 1.
func (p *Presets) PromptSet(rng *rand.Rand) engine.PromptSet {
	set := make(engine.PromptSet, len(p.Prompts))
	ids := make([]string, len(p.Prompts))
	for i, prompt := range p.Prompts {
		if prompt.ID == "" {
			prompt.ID = fmt.Sprintf("prompt-%d", i)
		}
		if p.InitialActive > 0 {
			prompt.Weight = 0
		}
		set[prompt.ID] = prompt
		ids[i] = prompt.ID
	}

	if p.InitialActive > 0 {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		for _, id := range ids[:p.InitialActive] {
			prompt := set[id]
			prompt.Weight = 1
			set[id] = prompt
		}
	}
	return set
}
