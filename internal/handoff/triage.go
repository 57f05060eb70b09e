package handoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/skeinhq/skein/internal/bus"
)

// TriageStrategy selects the classification algorithm.
type TriageStrategy string

const (
	StrategyKeyword    TriageStrategy = "keyword"
	StrategyIntent     TriageStrategy = "intent"
	StrategyCapability TriageStrategy = "capability"
	StrategyHybrid     TriageStrategy = "hybrid"
	StrategyLLM        TriageStrategy = "llm"
)

// intentPatterns is the fixed intent detection table, checked in order.
var intentPatterns = []struct {
	category Category
	phrases  []string
}{
	{CategoryRefund, []string{"refund", "money back", "return my order"}},
	{CategoryBilling, []string{"invoice", "charge", "payment", "billed"}},
	{CategorySales, []string{"buy", "purchase", "pricing", "upgrade plan"}},
	{CategoryTechnical, []string{"error", "bug", "crash", "not working", "api"}},
	{CategoryEscalation, []string{"manager", "complaint", "unacceptable", "escalate"}},
	{CategorySupport, []string{"help", "issue", "problem", "question"}},
}

// Classification is the triage verdict.
type Classification struct {
	Category      Category   `json:"category"`
	Confidence    float64    `json:"confidence"`
	SelectedAgent string     `json:"selected_agent"`
	Reasoning     string     `json:"reasoning"`
	Intents       []Category `json:"intents,omitempty"`
}

// LLMClassifier is the abstract extension point for the llm strategy.
type LLMClassifier interface {
	Classify(ctx context.Context, task string, agents []*Agent) (Classification, error)
}

// TriageConfig shapes the router.
type TriageConfig struct {
	Strategy            TriageStrategy `yaml:"strategy" json:"strategy"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold" json:"confidence_threshold"`
	FallbackAgent       string         `yaml:"fallback_agent" json:"fallback_agent,omitempty"`
	EnableHandoff       bool           `yaml:"enable_handoff" json:"enable_handoff"`
}

// Triage classifies a task and routes it to the best agent, optionally
// chaining into a handoff.
type Triage struct {
	registry *AgentRegistry
	handoff  *Handoff
	events   *bus.Bus
	llm      LLMClassifier
	cfg      TriageConfig
}

func NewTriage(registry *AgentRegistry, h *Handoff, events *bus.Bus, llm LLMClassifier, cfg TriageConfig) *Triage {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHybrid
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	return &Triage{registry: registry, handoff: h, events: events, llm: llm, cfg: cfg}
}

// Execute classifies the task and, when handoff is enabled, transfers the
// conversation to the selected agent.
func (t *Triage) Execute(ctx context.Context, task string, messages []Message, state map[string]any) (Classification, map[string]any, error) {
	t.emit(bus.EventTriageStarted, map[string]any{"task": task})

	cls := t.Classify(ctx, task)
	t.emit(bus.EventTriageClassified, map[string]any{
		"category":   string(cls.Category),
		"agent":      cls.SelectedAgent,
		"confidence": cls.Confidence,
	})

	var response map[string]any
	if t.cfg.EnableHandoff && cls.SelectedAgent != "" {
		var err error
		response, err = t.handoff.Execute(ctx, Request{
			SourceAgent:  "triage",
			TargetAgents: []string{cls.SelectedAgent},
			Reason:       cls.Reasoning,
		}, messages, state)
		if err != nil {
			return cls, nil, err
		}
	}

	t.emit(bus.EventTriageCompleted, map[string]any{"agent": cls.SelectedAgent})
	return cls, response, nil
}

// Classify runs the configured strategy. Identical inputs yield identical
// classifications.
func (t *Triage) Classify(ctx context.Context, task string) Classification {
	var cls Classification
	switch t.cfg.Strategy {
	case StrategyKeyword:
		cls = t.classifyKeyword(task)
	case StrategyIntent:
		cls = t.classifyIntent(task)
	case StrategyCapability:
		cls = t.classifyCapability(task)
	case StrategyLLM:
		cls = t.classifyLLM(ctx, task)
	default:
		cls = t.classifyHybrid(task)
	}

	if cls.Confidence < t.cfg.ConfidenceThreshold && t.cfg.FallbackAgent != "" {
		cls.SelectedAgent = t.cfg.FallbackAgent
		if cls.Category == "" || cls.Category == CategoryUnknown {
			cls.Category = CategoryGeneral
		}
		cls.Reasoning = fmt.Sprintf("confidence %.2f below threshold %.2f, using fallback agent", cls.Confidence, t.cfg.ConfidenceThreshold)
	}
	if cls.Category == "" {
		cls.Category = CategoryUnknown
	}
	return cls
}

// classifyKeyword scores each agent by task keyword hits weighted by the
// agent's priority; the best positive score wins.
func (t *Triage) classifyKeyword(task string) Classification {
	taskLower := strings.ToLower(task)
	best := Classification{Category: CategoryUnknown}
	bestScore := 0
	for _, agent := range t.registry.List() {
		hits := 0
		for _, kw := range agent.Keywords {
			if strings.Contains(taskLower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		weight := agent.Priority
		if weight < 1 {
			weight = 1
		}
		score := hits * weight
		if score > bestScore {
			bestScore = score
			conf := float64(hits) / float64(len(agent.Keywords))
			if conf > 1 {
				conf = 1
			}
			best = Classification{
				Category:      firstCategory(agent),
				Confidence:    conf,
				SelectedAgent: agent.Name,
				Reasoning:     fmt.Sprintf("%d keyword hits on %s", hits, agent.Name),
			}
		}
	}
	return best
}

// classifyIntent matches the fixed pattern table and selects the highest
// priority agent declaring the first detected intent.
func (t *Triage) classifyIntent(task string) Classification {
	intents := detectIntents(task)
	if len(intents) == 0 {
		return Classification{Category: CategoryUnknown, Reasoning: "no intent detected"}
	}

	cls := Classification{
		Category:   intents[0],
		Confidence: 0.8,
		Intents:    intents,
		Reasoning:  fmt.Sprintf("detected intents %v", intents),
	}
	bestPriority := -1
	for _, agent := range t.registry.List() {
		if agent.hasCategory(intents[0]) && agent.Priority > bestPriority {
			bestPriority = agent.Priority
			cls.SelectedAgent = agent.Name
		}
	}
	if cls.SelectedAgent == "" {
		cls.Confidence = 0
	}
	return cls
}

// classifyCapability votes agents whose categories overlap the detected
// intents.
func (t *Triage) classifyCapability(task string) Classification {
	intents := detectIntents(task)
	if len(intents) == 0 {
		return Classification{Category: CategoryUnknown, Reasoning: "no category inferred"}
	}

	best := Classification{Category: intents[0], Intents: intents}
	bestVotes := 0
	for _, agent := range t.registry.List() {
		votes := 0
		for _, intent := range intents {
			if agent.hasCategory(intent) {
				votes++
			}
		}
		if votes > bestVotes {
			bestVotes = votes
			best.SelectedAgent = agent.Name
			best.Confidence = float64(votes) / float64(len(intents))
			best.Reasoning = fmt.Sprintf("%s covers %d of %d inferred categories", agent.Name, votes, len(intents))
		}
	}
	return best
}

// classifyHybrid combines keyword scoring with intent detection and
// breaks ties by agent priority.
func (t *Triage) classifyHybrid(task string) Classification {
	taskLower := strings.ToLower(task)
	intents := detectIntents(task)

	best := Classification{Category: CategoryUnknown, Intents: intents}
	bestScore := 0.0
	bestPriority := -1
	for _, agent := range t.registry.List() {
		kwConf := 0.0
		if len(agent.Keywords) > 0 {
			hits := 0
			for _, kw := range agent.Keywords {
				if strings.Contains(taskLower, strings.ToLower(kw)) {
					hits++
				}
			}
			kwConf = float64(hits) / float64(len(agent.Keywords))
		}
		intentHit := 0.0
		for _, intent := range intents {
			if agent.hasCategory(intent) {
				intentHit = 1
				break
			}
		}
		score := 0.6*kwConf + 0.4*intentHit
		if score > bestScore || (score == bestScore && score > 0 && agent.Priority > bestPriority) {
			bestScore = score
			bestPriority = agent.Priority
			category := firstCategory(agent)
			if len(intents) > 0 {
				category = intents[0]
			}
			best = Classification{
				Category:      category,
				Confidence:    score,
				SelectedAgent: agent.Name,
				Intents:       intents,
				Reasoning:     fmt.Sprintf("hybrid score %.2f for %s", score, agent.Name),
			}
		}
	}
	return best
}

// classifyLLM consults the collaborator and falls back to hybrid when it
// is absent or fails.
func (t *Triage) classifyLLM(ctx context.Context, task string) Classification {
	if t.llm != nil {
		cls, err := t.llm.Classify(ctx, task, t.registry.List())
		if err == nil {
			return cls
		}
	}
	return t.classifyHybrid(task)
}

func detectIntents(task string) []Category {
	taskLower := strings.ToLower(task)
	var intents []Category
	for _, entry := range intentPatterns {
		for _, phrase := range entry.phrases {
			if strings.Contains(taskLower, phrase) {
				intents = append(intents, entry.category)
				break
			}
		}
	}
	return intents
}

func firstCategory(a *Agent) Category {
	if len(a.Categories) > 0 {
		return a.Categories[0]
	}
	return CategoryUnknown
}

func (t *Triage) emit(name string, payload map[string]any) {
	if t.events == nil {
		return
	}
	t.events.Emit(name, "", payload)
}
