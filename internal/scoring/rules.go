// Package scoring turns a completed answer set into a score and a decision band.
package scoring

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/spigell/hr-intake/internal/questionnaire"
)

// ErrRulesNotFound is returned when the rule table file does not exist.
var ErrRulesNotFound = errors.New("scoring: rules file not found")

const (
	DefaultDecline = 0
	DefaultAccept  = math.MaxInt
)

// Thresholds bound the decision bands. Nil values fall back to the defaults,
// which make ACCEPTED unreachable.
type Thresholds struct {
	Accept  *int `mapstructure:"accept"`
	Decline *int `mapstructure:"decline"`
}

func (t Thresholds) AcceptAt() int {
	if t.Accept == nil {
		return DefaultAccept
	}
	return *t.Accept
}

func (t Thresholds) DeclineAt() int {
	if t.Decline == nil {
		return DefaultDecline
	}
	return *t.Decline
}

// RuleTable holds category weights keyed by answer label.
type RuleTable struct {
	Scores     map[string]map[string]int `mapstructure:"SCORES"`
	Thresholds Thresholds                `mapstructure:"THRESHOLDS"`
}

// Weight returns the weight of label in category, or 0.
func (r *RuleTable) Weight(category, label string) int {
	if r == nil {
		return 0
	}
	return r.Scores[category][label]
}

// Canonical adds the current label for every legacy label in the weighted
// categories. An entry already written under the current label wins.
func (r *RuleTable) Canonical(catalog *questionnaire.Catalog, categories []Category) {
	for _, c := range categories {
		weights := r.Scores[c.Name]
		if weights == nil || c.Question < 0 || c.Question >= catalog.Count() {
			continue
		}

		q := catalog.Get(c.Question)
		for label, w := range weights {
			canonical := q.Canonical(label)
			if canonical == label {
				continue
			}
			if _, ok := weights[canonical]; !ok {
				weights[canonical] = w
			}
		}
	}
}

// Load reads a rule table from a JSON or YAML file.
func Load(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, path)
		}
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}

	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	return table, nil
}

// Parse decodes a rule table document. JSON is valid YAML, so both formats are
// accepted. Numbers written as strings are tolerated.
func Parse(data []byte) (*RuleTable, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	table := &RuleTable{}
	cfg := &mapstructure.DecoderConfig{
		Result:           table,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}

	if table.Scores == nil {
		table.Scores = map[string]map[string]int{}
	}

	return table, nil
}
