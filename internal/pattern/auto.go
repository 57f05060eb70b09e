package pattern

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/skill"
)

// Scoring weights. The sum is normalized over the components a skill
// actually declares, so a skill without keywords is not penalized for
// their absence.
const (
	weightName        = 0.3
	weightKeywords    = 0.4
	weightCategory    = 0.2
	weightDescription = 0.1
)

// categoryKeywords is the fixed routing vocabulary per skill category.
var categoryKeywords = map[string][]string{
	"requirements":   {"requirement", "need", "specification", "ears", "user story", "feature"},
	"design":         {"design", "architecture", "component", "c4", "uml"},
	"implementation": {"implement", "code", "develop", "build", "create", "programming"},
	"testing":        {"test", "qa", "quality", "verify", "validate", "bug"},
	"documentation":  {"document", "readme", "guide", "tutorial"},
	"devops":         {"deploy", "ci", "cd", "pipeline", "infrastructure", "kubernetes"},
	"security":       {"security", "vulnerability", "authentication", "authorization"},
	"performance":    {"performance", "optimize", "benchmark", "profiling"},
	"analysis":       {"analyze", "review", "assess", "evaluate", "audit"},
	"research":       {"research", "investigate", "explore", "study"},
}

// ConfidenceLevel buckets a score.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	case score >= 0.3:
		return "low"
	}
	return "none"
}

// Match is one scored routing candidate.
type Match struct {
	SkillID    string  `json:"skill_id"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
}

// AutoConfig configures keyword-scored routing.
type AutoConfig struct {
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MultiMatch    bool    `yaml:"multi_match" json:"multi_match"`
	MaxMatches    int     `yaml:"max_matches" json:"max_matches"`
	FallbackSkill string  `yaml:"fallback_skill" json:"fallback_skill"`
}

// Auto routes a free-text task to the best-scoring registered skill.
type Auto struct {
	registry *skill.Registry
	executor *skill.Executor
	events   *bus.Bus
	cfg      AutoConfig
}

func NewAuto(registry *skill.Registry, executor *skill.Executor, events *bus.Bus, cfg AutoConfig) *Auto {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.3
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 3
	}
	return &Auto{registry: registry, executor: executor, events: events, cfg: cfg}
}

func (a *Auto) Name() string { return "auto" }

func (a *Auto) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	task := ectx.Task()
	a.emit(bus.EventAutoPatternStarted, ectx.ID, map[string]any{"task": task})

	matches := a.Matches(task)
	if len(matches) == 0 {
		if a.cfg.FallbackSkill == "" {
			a.emit(bus.EventAutoPatternCompleted, ectx.ID, map[string]any{"matched": 0})
			return nil, fmt.Errorf("no skill matched task above confidence %.2f", a.cfg.MinConfidence)
		}
		a.emit(bus.EventAutoPatternFallback, ectx.ID, map[string]any{"skill": a.cfg.FallbackSkill})
		res, err := a.executor.Execute(ctx, a.cfg.FallbackSkill, ectx.Input(), &skill.ExecOptions{Parent: ectx})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"selectedSkill": a.cfg.FallbackSkill,
			"confidence":    0.0,
			"fallback":      true,
			"results":       []*core.Result{res},
		}, nil
	}

	selected := matches[:1]
	if a.cfg.MultiMatch {
		n := a.cfg.MaxMatches
		if n > len(matches) {
			n = len(matches)
		}
		selected = matches[:n]
	}

	var results []*core.Result
	for _, m := range selected {
		a.emit(bus.EventAutoPatternMatched, ectx.ID, map[string]any{
			"skill":      m.SkillID,
			"score":      m.Score,
			"confidence": m.Confidence,
		})
		res, err := a.executor.Execute(ctx, m.SkillID, ectx.Input(), &skill.ExecOptions{Parent: ectx})
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	a.emit(bus.EventAutoPatternCompleted, ectx.ID, map[string]any{"matched": len(selected)})
	return map[string]any{
		"selectedSkill":   selected[0].SkillID,
		"confidence":      selected[0].Score,
		"confidenceLevel": selected[0].Confidence,
		"matches":         matches,
		"results":         results,
	}, nil
}

// Matches scores every registered skill against the task, discards scores
// below MinConfidence, and sorts descending with ties broken by insertion
// order.
func (a *Auto) Matches(task string) []Match {
	taskLower := strings.ToLower(task)
	taskTokens := tokenize(task)

	var matches []Match
	for _, s := range a.registry.List() {
		score := scoreSkill(s, taskLower, taskTokens)
		if score >= a.cfg.MinConfidence {
			matches = append(matches, Match{SkillID: s.ID, Score: score, Confidence: ConfidenceLevel(score)})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

func scoreSkill(s *skill.Skill, taskLower string, taskTokens []string) float64 {
	tokenSet := make(map[string]bool, len(taskTokens))
	for _, t := range taskTokens {
		tokenSet[t] = true
	}

	weighted := 0.0
	totalWeight := weightName

	// Skill-name match: full substring of the spaced id gives full
	// credit, otherwise fractional token credit.
	name := strings.ToLower(strings.ReplaceAll(s.ID, "-", " "))
	if strings.Contains(taskLower, name) {
		weighted += weightName
	} else {
		nameTokens := tokenize(name)
		if len(nameTokens) > 0 {
			hit := 0
			for _, nt := range nameTokens {
				if tokenSet[nt] {
					hit++
				}
			}
			weighted += weightName * float64(hit) / float64(len(nameTokens))
		}
	}

	if len(s.Keywords) > 0 {
		totalWeight += weightKeywords
		hit := 0
		for _, kw := range s.Keywords {
			if strings.Contains(taskLower, strings.ToLower(kw)) {
				hit++
			}
		}
		weighted += weightKeywords * float64(hit) / float64(len(s.Keywords))
	}

	if kws, ok := categoryKeywords[s.Category]; ok {
		totalWeight += weightCategory
		for _, kw := range kws {
			if strings.Contains(taskLower, kw) {
				weighted += weightCategory
				break // first category hit wins full weight
			}
		}
	}

	if s.Description != "" {
		totalWeight += weightDescription
		descTokens := tokenize(s.Description)
		overlap := 0
		for _, dt := range descTokens {
			if tokenSet[dt] {
				overlap++
			}
		}
		frac := float64(overlap) / 3
		if frac > 1 {
			frac = 1
		}
		weighted += weightDescription * frac
	}

	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// tokenize lowercases, strips punctuation, splits on whitespace, and keeps
// tokens longer than two runes.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func (a *Auto) emit(name, contextID string, payload map[string]any) {
	if a.events == nil {
		return
	}
	a.events.Emit(name, contextID, payload)
}
