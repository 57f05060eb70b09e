package pattern

import (
	"context"
	"fmt"

	"github.com/skeinhq/skein/internal/bus"
	"github.com/skeinhq/skein/internal/core"
	"github.com/skeinhq/skein/internal/skill"
)

// ChatMessage is one participant response in a group chat transcript.
type ChatMessage struct {
	Round   int            `json:"round"`
	Skill   string         `json:"skill"`
	Content map[string]any `json:"content"`
}

// GroupChatConfig configures a round-based multi-participant discussion.
// Each round, every participant skill runs once with the task, the round
// number, and the transcript so far.
type GroupChatConfig struct {
	Participants    []string `yaml:"participants" json:"participants"`
	Rounds          int      `yaml:"rounds" json:"rounds"`
	ContinueOnError bool     `yaml:"continue_on_error" json:"continue_on_error"`
}

type GroupChat struct {
	executor *skill.Executor
	events   *bus.Bus
	cfg      GroupChatConfig
}

func NewGroupChat(executor *skill.Executor, events *bus.Bus, cfg GroupChatConfig) *GroupChat {
	if cfg.Rounds <= 0 {
		cfg.Rounds = 1
	}
	return &GroupChat{executor: executor, events: events, cfg: cfg}
}

func (g *GroupChat) Name() string { return "group-chat" }

func (g *GroupChat) Execute(ctx context.Context, ectx *core.ExecutionContext) (map[string]any, error) {
	if len(g.cfg.Participants) == 0 {
		return nil, fmt.Errorf("group chat requires at least one participant")
	}

	g.emit(bus.EventGroupChatStarted, ectx.ID, map[string]any{
		"participants": g.cfg.Participants,
		"rounds":       g.cfg.Rounds,
	})

	var history []ChatMessage
	seed := ectx.Input()
	delete(seed, core.CancelKey)

	for round := 1; round <= g.cfg.Rounds; round++ {
		if ectx.Cancelled() {
			g.emit(bus.EventGroupChatFailed, ectx.ID, map[string]any{"round": round, "error": "cancelled"})
			return nil, fmt.Errorf("group chat cancelled in round %d", round)
		}
		g.emit(bus.EventGroupChatRoundStarted, ectx.ID, map[string]any{"round": round})

		for _, participant := range g.cfg.Participants {
			input := make(map[string]any, len(seed)+3)
			for k, v := range seed {
				input[k] = v
			}
			input["task"] = ectx.Task()
			input["round"] = round
			input["history"] = append([]ChatMessage(nil), history...)

			res, err := g.executor.Execute(ctx, participant, input, &skill.ExecOptions{Parent: ectx})
			if err != nil {
				return nil, err
			}
			if !res.Success() {
				if g.cfg.ContinueOnError {
					continue
				}
				g.emit(bus.EventGroupChatFailed, ectx.ID, map[string]any{
					"round": round,
					"skill": participant,
					"error": res.Error,
				})
				return nil, fmt.Errorf("participant %s failed in round %d: %s", participant, round, res.Error)
			}

			msg := ChatMessage{Round: round, Skill: participant, Content: res.Output}
			history = append(history, msg)
			g.emit(bus.EventGroupChatResponse, ectx.ID, map[string]any{
				"round": round,
				"skill": participant,
			})
		}

		g.emit(bus.EventGroupChatRoundCompleted, ectx.ID, map[string]any{
			"round":    round,
			"messages": len(history),
		})
	}

	g.emit(bus.EventGroupChatCompleted, ectx.ID, map[string]any{
		"rounds":   g.cfg.Rounds,
		"messages": len(history),
	})
	return map[string]any{
		"history": history,
		"rounds":  g.cfg.Rounds,
		"summary": map[string]any{
			"participants": len(g.cfg.Participants),
			"messages":     len(history),
		},
	}, nil
}

func (g *GroupChat) emit(name, contextID string, payload map[string]any) {
	if g.events == nil {
		return
	}
	g.events.Emit(name, contextID, payload)
}
