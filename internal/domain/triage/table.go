package triage

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SymptomID is the stable key of a clinical sign, e.g. "desidratacao".
type SymptomID string

// RiskLevel is the outcome of a classification.
type RiskLevel string

const (
	LevelHigh   RiskLevel = "alto_risco"
	LevelMedium RiskLevel = "medio_risco"
	LevelLow    RiskLevel = "baixo_risco"
)

// Levels lists every risk level from most to least severe.
var Levels = []RiskLevel{LevelHigh, LevelMedium, LevelLow}

// Valid reports whether l is one of the defined risk levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case LevelHigh, LevelMedium, LevelLow:
		return true
	}
	return false
}

// Symptom is a catalog entry: a display label and its risk contribution.
type Symptom struct {
	Label  string `yaml:"label" json:"label"`
	Weight int    `yaml:"weight" json:"weight"`
}

// CriticalCombination is a set of symptoms whose simultaneous presence forces
// the high-risk level regardless of score.
type CriticalCombination []SymptomID

// RiskThresholds holds the inclusive lower bounds of the high and medium levels.
type RiskThresholds struct {
	High   int `yaml:"alto_risco" json:"alto_risco"`
	Medium int `yaml:"medio_risco" json:"medio_risco"`
}

// Protocol is the care bundle attached to a risk level.
type Protocol struct {
	Recommendation string   `yaml:"recommendation" json:"recommendation"`
	Priority       string   `yaml:"priority" json:"priority"`
	Actions        []string `yaml:"actions" json:"actions"`
}

func (p Protocol) clone() Protocol {
	p.Actions = append([]string(nil), p.Actions...)
	return p
}

// Table is the reference data a Classifier is built from.
type Table struct {
	Symptoms             map[SymptomID]Symptom
	CriticalCombinations []CriticalCombination
	Thresholds           RiskThresholds
	Protocols            map[RiskLevel]Protocol
}

// ConfigurationError reports every problem found in a reference table.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid triage configuration: " + strings.Join(e.Problems, "; ")
}

// rawTable mirrors the document layout. Thresholds are pointers so a missing
// key can be told apart from an explicit zero.
type rawTable struct {
	Symptoms             map[SymptomID]Symptom  `yaml:"symptoms"`
	CriticalCombinations []CriticalCombination  `yaml:"critical_combinations"`
	Thresholds           rawThresholds          `yaml:"risk_thresholds"`
	Protocols            map[RiskLevel]Protocol `yaml:"protocols"`
}

type rawThresholds struct {
	High   *int `yaml:"alto_risco"`
	Medium *int `yaml:"medio_risco"`
}

//go:embed default_table.yaml
var defaultTableYAML []byte

// DefaultTable returns the built-in cholera reference table.
func DefaultTable() (Table, error) {
	return ParseTable(defaultTableYAML)
}

// LoadTable reads and validates a YAML or JSON reference table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read triage table %s: %w", path, err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return Table{}, fmt.Errorf("triage table %s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes a reference table document and validates it. Unknown
// fields are rejected. Any structural or semantic problem is returned as a
// *ConfigurationError.
func ParseTable(data []byte) (Table, error) {
	var raw rawTable
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, &ConfigurationError{Problems: []string{"reference table is empty"}}
		}
		return Table{}, &ConfigurationError{Problems: []string{"decode: " + err.Error()}}
	}

	var problems []string
	t := Table{
		Symptoms:             raw.Symptoms,
		CriticalCombinations: raw.CriticalCombinations,
		Protocols:            raw.Protocols,
	}
	if raw.Thresholds.High == nil {
		problems = append(problems, "risk_thresholds.alto_risco is missing")
	} else {
		t.Thresholds.High = *raw.Thresholds.High
	}
	if raw.Thresholds.Medium == nil {
		problems = append(problems, "risk_thresholds.medio_risco is missing")
	} else {
		t.Thresholds.Medium = *raw.Thresholds.Medium
	}

	// A missing threshold is already reported; comparing its zero value
	// would only add noise.
	thresholdsSet := raw.Thresholds.High != nil && raw.Thresholds.Medium != nil
	problems = append(problems, t.problems(thresholdsSet)...)
	if len(problems) > 0 {
		return Table{}, &ConfigurationError{Problems: problems}
	}
	return t, nil
}

// MaxSymptomWeight bounds a single catalog weight so that no score can
// overflow.
const MaxSymptomWeight = 1000

// Validate checks the table is complete and internally consistent.
func (t Table) Validate() error {
	if problems := t.problems(true); len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func (t Table) problems(checkThresholds bool) []string {
	var problems []string

	if len(t.Symptoms) == 0 {
		problems = append(problems, "symptom catalog is empty")
	}
	for _, id := range sortedSymptomIDs(t.Symptoms) {
		s := t.Symptoms[id]
		if strings.TrimSpace(string(id)) == "" {
			problems = append(problems, "symptom catalog contains an empty identifier")
			continue
		}
		if strings.TrimSpace(string(id)) != string(id) {
			problems = append(problems, fmt.Sprintf("symptom identifier %q has surrounding whitespace", id))
		}
		if strings.TrimSpace(s.Label) == "" {
			problems = append(problems, fmt.Sprintf("symptom %q has no label", id))
		}
		if s.Weight < 0 {
			problems = append(problems, fmt.Sprintf("symptom %q has negative weight %d", id, s.Weight))
		}
		if s.Weight > MaxSymptomWeight {
			problems = append(problems, fmt.Sprintf("symptom %q weight %d exceeds the maximum of %d", id, s.Weight, MaxSymptomWeight))
		}
	}

	for i, combo := range t.CriticalCombinations {
		if len(combo) == 0 {
			problems = append(problems, fmt.Sprintf("critical combination #%d is empty", i+1))
			continue
		}
		seen := make(map[SymptomID]bool, len(combo))
		for _, id := range combo {
			if seen[id] {
				problems = append(problems, fmt.Sprintf("critical combination #%d repeats %q", i+1, id))
				continue
			}
			seen[id] = true
			if strings.TrimSpace(string(id)) != string(id) {
				problems = append(problems, fmt.Sprintf("critical combination #%d has identifier %q with surrounding whitespace", i+1, id))
				continue
			}
			if _, ok := t.Symptoms[id]; !ok {
				problems = append(problems, fmt.Sprintf("critical combination #%d references unknown symptom %q", i+1, id))
			}
		}
	}

	if checkThresholds {
		if t.Thresholds.Medium < 0 {
			problems = append(problems, fmt.Sprintf("risk_thresholds.medio_risco must be >= 0, got %d", t.Thresholds.Medium))
		}
		if t.Thresholds.High <= t.Thresholds.Medium {
			problems = append(problems, fmt.Sprintf("risk_thresholds.alto_risco (%d) must be greater than medio_risco (%d)",
				t.Thresholds.High, t.Thresholds.Medium))
		}
	}

	for _, level := range Levels {
		p, ok := t.Protocols[level]
		if !ok {
			problems = append(problems, fmt.Sprintf("protocol for %s is missing", level))
			continue
		}
		if strings.TrimSpace(p.Recommendation) == "" {
			problems = append(problems, fmt.Sprintf("protocol %s has no recommendation", level))
		}
		if strings.TrimSpace(p.Priority) == "" {
			problems = append(problems, fmt.Sprintf("protocol %s has no priority", level))
		}
	}
	var extra []string
	for level := range t.Protocols {
		if !level.Valid() {
			extra = append(extra, string(level))
		}
	}
	sort.Strings(extra)
	for _, level := range extra {
		problems = append(problems, fmt.Sprintf("protocol %q is not a known risk level", level))
	}

	return problems
}

func sortedSymptomIDs(m map[SymptomID]Symptom) []SymptomID {
	ids := make([]SymptomID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
