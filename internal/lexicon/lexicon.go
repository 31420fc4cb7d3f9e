package lexicon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Category is a named group of keywords or phrases. Order inside a lexicon
// section is significant: it breaks ties and orders secondary results.
type Category struct {
	Name     string   `yaml:"name" json:"name" jsonschema:"required"`
	Keywords []string `yaml:"keywords" json:"keywords" jsonschema:"required"`
}

// Hits counts the distinct keywords of c present in normalized text.
func (c Category) Hits(text string) int {
	n := 0
	for _, kw := range c.Keywords {
		if ContainsPhrase(text, kw) {
			n++
		}
	}
	return n
}

// Any reports whether at least one keyword of c is present in normalized text.
func (c Category) Any(text string) bool {
	for _, kw := range c.Keywords {
		if ContainsPhrase(text, kw) {
			return true
		}
	}
	return false
}

// DepthLevel maps a conversational depth (1-5) to its marker phrases.
// Single-word keywords match as word prefixes.
type DepthLevel struct {
	Level    int      `yaml:"level" json:"level" jsonschema:"required,minimum=1,maximum=5"`
	Keywords []string `yaml:"keywords" json:"keywords" jsonschema:"required"`
}

// Guide is a named strategy option with the prompt guidance it renders.
type Guide struct {
	Name     string `yaml:"name" json:"name" jsonschema:"required"`
	Guidance string `yaml:"guidance" json:"guidance" jsonschema:"required"`
}

// SegmentRule assigns a user segment when at least MinHits of the recent
// signals started in one of Tones. Approach, when set, is the alternative
// tried first for the segment when resonance drops.
type SegmentRule struct {
	Name     string   `yaml:"name" json:"name" jsonschema:"required"`
	Tones    []string `yaml:"tones" json:"tones" jsonschema:"required"`
	MinHits  int      `yaml:"min_hits" json:"min_hits" jsonschema:"required,minimum=1"`
	Approach string   `yaml:"approach,omitempty" json:"approach,omitempty"`
}

// Polarity splits tones into those whose intensity should rise after a
// good reply and those whose intensity should fall.
type Polarity struct {
	Positive []string `yaml:"positive" json:"positive" jsonschema:"required"`
	Negative []string `yaml:"negative" json:"negative" jsonschema:"required"`
}

// Lexicon is the versioned keyword table shared by the analyzer, the memory
// retriever, the signal recorder and the strategy selector.
type Lexicon struct {
	Version          string        `yaml:"version" json:"version" jsonschema:"required"`
	Tones            []Category    `yaml:"tones" json:"tones" jsonschema:"required"`
	Masking          []Category    `yaml:"masking" json:"masking" jsonschema:"required,description=Regular expressions matched against lowercased text"`
	Energy           []Category    `yaml:"energy" json:"energy" jsonschema:"required"`
	Intensifiers     []string      `yaml:"intensifiers" json:"intensifiers" jsonschema:"required"`
	Profanity        []string      `yaml:"profanity" json:"profanity" jsonschema:"required"`
	Crisis           []string      `yaml:"crisis" json:"crisis" jsonschema:"required"`
	Recovery         []string      `yaml:"recovery" json:"recovery" jsonschema:"required"`
	Themes           []Category    `yaml:"themes" json:"themes" jsonschema:"required"`
	Emotions         []Category    `yaml:"emotions" json:"emotions" jsonschema:"required"`
	Depth            []DepthLevel  `yaml:"depth" json:"depth" jsonschema:"required"`
	LongMessageChars int           `yaml:"long_message_chars" json:"long_message_chars" jsonschema:"required,minimum=1"`
	Polarity         Polarity      `yaml:"polarity" json:"polarity" jsonschema:"required"`
	Moves            []Category    `yaml:"moves" json:"moves" jsonschema:"required"`
	Segments         []SegmentRule `yaml:"segments" json:"segments" jsonschema:"required"`
	Approaches       []Guide       `yaml:"approaches" json:"approaches" jsonschema:"required,description=Approach rotation in order; the first entry is the default"`
	Styles           []Guide       `yaml:"styles" json:"styles" jsonschema:"required,description=Response styles; the first entry is the default"`

	masking []maskPattern
}

type maskPattern struct {
	name string
	res  []*regexp.Regexp
}

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the embedded lexicon. It panics if the embedded table is
// invalid, which can only happen through a broken build.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		lx, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon: %v", err))
		}
		defaultLex = lx
	})
	return defaultLex
}

// DefaultYAML returns a copy of the embedded lexicon source.
func DefaultYAML() []byte {
	out := make([]byte, len(defaultYAML))
	copy(out, defaultYAML)
	return out
}

// Load reads a lexicon from path. An empty path yields the embedded default.
func Load(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	lx, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return lx, nil
}

// Parse decodes and validates a YAML lexicon document.
func Parse(raw []byte) (*Lexicon, error) {
	var lx Lexicon
	if err := yaml.Unmarshal(raw, &lx); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	lx.normalize()
	if err := lx.Validate(); err != nil {
		return nil, err
	}
	if err := lx.compile(); err != nil {
		return nil, err
	}
	return &lx, nil
}

// Validate checks structural requirements that the scorers rely on.
func (lx *Lexicon) Validate() error {
	var errs []error
	if strings.TrimSpace(lx.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(lx.Tones) == 0 {
		errs = append(errs, errors.New("at least one tone is required"))
	}
	if len(lx.Energy) == 0 {
		errs = append(errs, errors.New("energy levels are required"))
	}
	if len(lx.Themes) == 0 {
		errs = append(errs, errors.New("at least one theme is required"))
	}
	if len(lx.Approaches) == 0 {
		errs = append(errs, errors.New("at least one approach is required"))
	}
	if len(lx.Styles) == 0 {
		errs = append(errs, errors.New("at least one style is required"))
	}
	if lx.LongMessageChars <= 0 {
		errs = append(errs, errors.New("long_message_chars must be positive"))
	}
	for _, d := range lx.Depth {
		if d.Level < 1 || d.Level > 5 {
			errs = append(errs, fmt.Errorf("depth level %d outside 1..5", d.Level))
		}
	}
	for _, s := range lx.Segments {
		if s.MinHits < 1 {
			errs = append(errs, fmt.Errorf("segment %q: min_hits must be at least 1", s.Name))
		}
		if s.Approach != "" {
			if _, ok := findGuide(lx.Approaches, s.Approach); !ok {
				errs = append(errs, fmt.Errorf("segment %q: unknown approach %q", s.Name, s.Approach))
			}
		}
	}
	for _, section := range [][]Category{lx.Tones, lx.Energy, lx.Themes, lx.Emotions, lx.Moves, lx.Masking} {
		seen := make(map[string]struct{}, len(section))
		for _, c := range section {
			if c.Name == "" {
				errs = append(errs, errors.New("category name is required"))
				continue
			}
			if _, dup := seen[c.Name]; dup {
				errs = append(errs, fmt.Errorf("duplicate category %q", c.Name))
			}
			seen[c.Name] = struct{}{}
		}
	}
	return errors.Join(errs...)
}

func (lx *Lexicon) normalize() {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = Normalize(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, section := range [][]Category{lx.Tones, lx.Energy, lx.Themes, lx.Emotions, lx.Moves} {
		for i := range section {
			section[i].Keywords = norm(section[i].Keywords)
		}
	}
	for i := range lx.Depth {
		lx.Depth[i].Keywords = norm(lx.Depth[i].Keywords)
	}
	lx.Intensifiers = norm(lx.Intensifiers)
	lx.Profanity = norm(lx.Profanity)
	lx.Crisis = norm(lx.Crisis)
	lx.Recovery = norm(lx.Recovery)
}

func (lx *Lexicon) compile() error {
	lx.masking = make([]maskPattern, 0, len(lx.Masking))
	for _, c := range lx.Masking {
		mp := maskPattern{name: c.Name}
		for _, expr := range c.Keywords {
			re, err := regexp.Compile(expr)
			if err != nil {
				return fmt.Errorf("masking %q pattern %q: %w", c.Name, expr, err)
			}
			mp.res = append(mp.res, re)
		}
		lx.masking = append(lx.masking, mp)
	}
	return nil
}

// MaskingFlags returns the masking families whose patterns match normalized text.
func (lx *Lexicon) MaskingFlags(text string) []string {
	var out []string
	for _, mp := range lx.masking {
		for _, re := range mp.res {
			if re.MatchString(text) {
				out = append(out, mp.name)
				break
			}
		}
	}
	return out
}

// AnyPhrase reports whether any of phrases is present in normalized text.
func AnyPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if ContainsPhrase(text, p) {
			return true
		}
	}
	return false
}

// PolarityOf returns +1 for tones that should intensify after a good reply,
// -1 for tones that should ease, and 0 otherwise.
func (lx *Lexicon) PolarityOf(tone string) int {
	for _, t := range lx.Polarity.Positive {
		if t == tone {
			return 1
		}
	}
	for _, t := range lx.Polarity.Negative {
		if t == tone {
			return -1
		}
	}
	return 0
}

// Approach looks up an approach guide by name.
func (lx *Lexicon) Approach(name string) (Guide, bool) {
	return findGuide(lx.Approaches, name)
}

// Style looks up a response style guide by name.
func (lx *Lexicon) Style(name string) (Guide, bool) {
	return findGuide(lx.Styles, name)
}

func findGuide(gs []Guide, name string) (Guide, bool) {
	for _, g := range gs {
		if g.Name == name {
			return g, true
		}
	}
	return Guide{}, false
}
