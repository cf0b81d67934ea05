package bridge

import (
	"context"
	"errors"
	"iter"
	"sync"

	"bridgebot/internal/command"
	"bridgebot/internal/config"
	"bridgebot/internal/logging"
	"bridgebot/internal/perception"
	"bridgebot/internal/store"
)

// PongText answers a liveness probe.
const PongText = "pong"

// ResetText confirms that a conversation's memory was cleared.
const ResetText = "Memory cleared for this conversation."

// Inbound is one observer message.
type Inbound struct {
	ConversationID string
	Text           string
	Stream         bool
}

// Service dispatches inbound messages to the parser, the orchestrator and the reflector.
type Service struct {
	store     store.SessionStore
	orch      *Orchestrator
	reflector *Reflector

	mu     sync.RWMutex
	parser *command.Parser
}

// NewService wires a service from the loaded configuration.
func NewService(client perception.BotClient, sessions store.SessionStore, cfg *config.Config) *Service {
	return &Service{
		store:     sessions,
		orch:      NewOrchestrator(client, sessions, cfg.Bridge),
		reflector: NewReflector(client, cfg.Reflect.HelperBot, cfg.Reflect.CriticBot),
		parser:    command.NewParser(parserLimits(cfg.Bridge)),
	}
}

// SetLimits applies reloaded bridge limits to sessions started afterwards.
func (s *Service) SetLimits(limits config.BridgeLimits) {
	s.mu.Lock()
	s.parser = command.NewParser(parserLimits(limits))
	s.mu.Unlock()
	s.orch.SetLimits(limits)
	logging.Bridge("limits updated: default_turns=%d max_turns=%d stop_token=%s",
		limits.DefaultTurns, limits.MaxTurns, limits.StopToken)
}

// Handle returns the output for one inbound message. Every path yields readable text;
// usage errors and remote failures become fragments, never returned errors.
func (s *Service) Handle(ctx context.Context, in Inbound) iter.Seq[Fragment] {
	s.mu.RLock()
	parser := s.parser
	s.mu.RUnlock()

	cmd, err := parser.Parse(in.Text)
	if err != nil {
		var usageErr *command.UsageError
		if errors.As(err, &usageErr) {
			logging.BridgeDebug("usage error: conversation=%s: %v", in.ConversationID, err)
			return single(reply(usageErr.Usage()))
		}
		return single(Fragment{Kind: KindError, Text: err.Error()})
	}

	logging.BridgeDebug("dispatch %s: conversation=%s stream=%v", cmd.Kind, in.ConversationID, in.Stream)
	switch cmd.Kind {
	case command.KindPing:
		return single(reply(PongText))
	case command.KindReset:
		return func(yield func(Fragment) bool) {
			if err := s.store.Clear(ctx, in.ConversationID); err != nil {
				yield(Fragment{Kind: KindError, Text: "reset failed: " + err.Error()})
				return
			}
			yield(reply(ResetText))
		}
	case command.KindBridge:
		return s.orch.Run(ctx, in.ConversationID, cmd.Bridge, in.Stream)
	case command.KindReflect:
		return s.reflector.Run(ctx, cmd.Question, in.Stream)
	default:
		return single(reply(command.HelpText))
	}
}

func single(f Fragment) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		yield(f)
	}
}

func parserLimits(limits config.BridgeLimits) command.Limits {
	return command.Limits{DefaultTurns: limits.DefaultTurns, MaxTurns: limits.MaxTurns}
}
