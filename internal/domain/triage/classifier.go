package triage

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// UnknownSymptomWarning flags a submitted identifier that is not in the
// catalog. It never stops a classification.
type UnknownSymptomWarning struct {
	Symptom SymptomID `json:"symptom"`
	Message string    `json:"message"`
}

// Result is the outcome of one classification. It is built fresh on every
// call and shares no memory with the classifier's tables.
type Result struct {
	Score         int                     `json:"score"`
	Level         RiskLevel               `json:"level"`
	CriticalMatch CriticalCombination     `json:"critical_match,omitempty"`
	Protocol      Protocol                `json:"protocol"`
	Symptoms      []SymptomID             `json:"symptoms"`
	Warnings      []UnknownSymptomWarning `json:"warnings,omitempty"`
}

// UnknownSymptoms returns the identifiers that produced warnings.
func (r Result) UnknownSymptoms() []SymptomID {
	out := make([]SymptomID, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Symptom)
	}
	return out
}

// CatalogEntry is a symptom together with its identifier.
type CatalogEntry struct {
	ID SymptomID `json:"id"`
	Symptom
}

// Classifier maps symptom sets to risk levels. Its tables are read-only after
// construction, so a single Classifier may be shared by any number of goroutines.
type Classifier struct {
	symptoms   map[SymptomID]Symptom
	combos     []CriticalCombination
	thresholds RiskThresholds
	protocols  map[RiskLevel]Protocol
}

// NewClassifier validates t and copies it into a new Classifier.
func NewClassifier(t Table) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		symptoms:   make(map[SymptomID]Symptom, len(t.Symptoms)),
		combos:     make([]CriticalCombination, 0, len(t.CriticalCombinations)),
		thresholds: t.Thresholds,
		protocols:  make(map[RiskLevel]Protocol, len(Levels)),
	}
	for id, s := range t.Symptoms {
		c.symptoms[id] = s
	}
	for _, combo := range t.CriticalCombinations {
		c.combos = append(c.combos, append(CriticalCombination(nil), combo...))
	}
	for _, level := range Levels {
		c.protocols[level] = t.Protocols[level].clone()
	}
	return c, nil
}

// Classify scores a symptom set. Duplicates count once, order is irrelevant
// and unknown identifiers are returned as warnings without adding weight.
func (c *Classifier) Classify(symptoms []SymptomID) Result {
	present := make(map[SymptomID]bool, len(symptoms))
	unknown := make(map[SymptomID]bool)
	score := 0

	for _, raw := range symptoms {
		id := SymptomID(strings.TrimSpace(string(raw)))
		s, ok := c.symptoms[id]
		if !ok {
			unknown[id] = true
			continue
		}
		if present[id] {
			continue
		}
		present[id] = true
		score += s.Weight
	}

	res := Result{
		Score:    score,
		Symptoms: make([]SymptomID, 0, len(present)),
	}
	for id := range present {
		res.Symptoms = append(res.Symptoms, id)
	}
	sortIDs(res.Symptoms)

	if len(unknown) > 0 {
		ids := make([]SymptomID, 0, len(unknown))
		for id := range unknown {
			ids = append(ids, id)
		}
		sortIDs(ids)
		for _, id := range ids {
			res.Warnings = append(res.Warnings, UnknownSymptomWarning{
				Symptom: id,
				Message: "symptom " + strconv.Quote(string(id)) + " is not in the catalog and was not scored",
			})
		}
	}

	// First matching combination wins; declaration order is stable.
	for _, combo := range c.combos {
		if containsAll(present, combo) {
			res.CriticalMatch = append(CriticalCombination(nil), combo...)
			res.Level = LevelHigh
			break
		}
	}
	if res.CriticalMatch == nil {
		res.Level = c.levelFor(score)
	}

	res.Protocol = c.protocols[res.Level].clone()
	return res
}

// ClassifyAll classifies each input independently, spreading the work over at
// most workers goroutines. Results are returned in input order.
func (c *Classifier) ClassifyAll(ctx context.Context, inputs [][]SymptomID, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.Classify(inputs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Classifier) levelFor(score int) RiskLevel {
	switch {
	case score >= c.thresholds.High:
		return LevelHigh
	case score >= c.thresholds.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Catalog returns the symptom catalog sorted by identifier.
func (c *Classifier) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(c.symptoms))
	for _, id := range sortedSymptomIDs(c.symptoms) {
		out = append(out, CatalogEntry{ID: id, Symptom: c.symptoms[id]})
	}
	return out
}

// Known reports whether id is in the catalog.
func (c *Classifier) Known(id SymptomID) bool {
	_, ok := c.symptoms[id]
	return ok
}

func (c *Classifier) Thresholds() RiskThresholds {
	return c.thresholds
}

func (c *Classifier) CriticalCombinations() []CriticalCombination {
	out := make([]CriticalCombination, 0, len(c.combos))
	for _, combo := range c.combos {
		out = append(out, append(CriticalCombination(nil), combo...))
	}
	return out
}

// Protocol returns the protocol for level. The second value is false for an
// undefined level.
func (c *Classifier) Protocol(level RiskLevel) (Protocol, bool) {
	p, ok := c.protocols[level]
	if !ok {
		return Protocol{}, false
	}
	return p.clone(), true
}

// Protocols returns a copy of the whole protocol table.
func (c *Classifier) Protocols() map[RiskLevel]Protocol {
	out := make(map[RiskLevel]Protocol, len(c.protocols))
	for level, p := range c.protocols {
		out[level] = p.clone()
	}
	return out
}

func containsAll(present map[SymptomID]bool, combo CriticalCombination) bool {
	for _, id := range combo {
		if !present[id] {
			return false
		}
	}
	return true
}

func sortIDs(ids []SymptomID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
