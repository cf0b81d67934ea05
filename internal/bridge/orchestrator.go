package bridge

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"bridgebot/internal/command"
	"bridgebot/internal/config"
	"bridgebot/internal/logging"
	"bridgebot/internal/perception"
	"bridgebot/internal/store"
	"bridgebot/internal/types"
)

// Orchestrator runs bridge sessions: it alternates participants, feeds each reply to the
// other side as its next prompt and stops on the first of stop token, turn count or cap.
type Orchestrator struct {
	client perception.BotClient
	store  store.SessionStore

	mu     sync.RWMutex
	limits config.BridgeLimits
}

// NewOrchestrator creates an orchestrator. The store is owned by the caller and may be
// shared with other orchestrators.
func NewOrchestrator(client perception.BotClient, sessions store.SessionStore, limits config.BridgeLimits) *Orchestrator {
	return &Orchestrator{
		client: client,
		store:  sessions,
		limits: limits,
	}
}

// SetLimits replaces the limits used by sessions started afterwards.
func (o *Orchestrator) SetLimits(limits config.BridgeLimits) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limits = limits
}

// Limits returns the current limits.
func (o *Orchestrator) Limits() config.BridgeLimits {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.limits
}

// session is the state of one running bridge.
type session struct {
	conversationID string
	cfg            command.BridgeConfig
	limits         config.BridgeLimits
	streaming      bool

	speaker, listener string
	lastMessage       string
	turnsCompleted    int
}

// Run returns the lazy fragment sequence of one bridge session. In batch mode each turn
// yields one KindTurn fragment; in streaming mode each turn yields KindSpeaker, the live
// KindText chunks and KindTurnEnd. A remote failure yields one KindError fragment naming
// the participant and ends the sequence.
func (o *Orchestrator) Run(ctx context.Context, conversationID string, cfg command.BridgeConfig, streaming bool) iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		s := &session{
			conversationID: conversationID,
			cfg:            cfg,
			limits:         o.Limits(),
			streaming:      streaming,
			speaker:        cfg.ParticipantA,
			listener:       cfg.ParticipantB,
			lastMessage:    cfg.Topic,
		}
		logging.Bridge("session start: conversation=%s %s<->%s mode=%s turns=%d",
			conversationID, cfg.ParticipantA, cfg.ParticipantB, modeName(cfg.Mode), cfg.Turns)
		timer := logging.StartTimer(logging.CategoryBridge, "session "+conversationID)
		defer timer.Stop()

		for {
			replyText, ok, err := o.turn(ctx, s, yield)
			if !ok {
				logging.BridgeDebug("observer stopped: conversation=%s after %d turns", conversationID, s.turnsCompleted)
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					logging.BridgeWarn("session cancelled: conversation=%s after %d turns", conversationID, s.turnsCompleted)
					return
				}
				callErr := perception.AsCallError(s.speaker, err)
				logging.BridgeWarn("session aborted: conversation=%s turn=%d: %v", conversationID, s.turnsCompleted+1, callErr)
				yield(Fragment{Kind: KindError, Speaker: callErr.Bot, Text: callErr.Error()})
				return
			}

			s.lastMessage = replyText
			s.speaker, s.listener = s.listener, s.speaker
			s.turnsCompleted++

			if halt, final := s.checkTermination(replyText); halt {
				if final != nil {
					yield(*final)
				}
				logging.Bridge("session end: conversation=%s turns=%d", conversationID, s.turnsCompleted)
				return
			}
		}
	}
}

// checkTermination applies the stop rules in priority order: stop token, fixed count, cap.
func (s *session) checkTermination(replyText string) (bool, *Fragment) {
	if s.cfg.Mode == command.AutoUntilStop && containsFold(replyText, s.limits.StopToken) {
		f := notice("Stop token %s received after %d turns.", s.limits.StopToken, s.turnsCompleted)
		return true, &f
	}
	if s.cfg.Mode == command.FixedTurns && s.turnsCompleted >= s.cfg.Turns {
		return true, nil
	}
	if s.turnsCompleted >= s.limits.MaxTurns {
		f := notice("Reached the safety cap of %d turns.", s.limits.MaxTurns)
		return true, &f
	}
	return false, nil
}

// turn performs one remote call for s.speaker. ok is false when the observer stopped.
func (o *Orchestrator) turn(ctx context.Context, s *session, yield func(Fragment) bool) (string, bool, error) {
	req := perception.Request{
		Bot:    s.speaker,
		Prompt: s.lastMessage,
	}
	if s.cfg.Mode == command.AutoUntilStop {
		if guidance := s.limits.Guidance(); guidance != "" {
			req.Prompt = s.lastMessage + "\n\n" + guidance
		}
	}
	if s.limits.History {
		req.History = o.loadHistory(ctx, s.conversationID, s.speaker)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.streaming && !yield(Fragment{Kind: KindSpeaker, Speaker: s.speaker}) {
		return "", false, nil
	}

	events, errs := o.client.Stream(turnCtx, req)
	var sb strings.Builder
	for ev := range events {
		frag, isText := ev.(perception.TextFragment)
		if !isText {
			continue
		}
		sb.WriteString(frag.Text)
		if s.streaming && !yield(Fragment{Kind: KindText, Speaker: s.speaker, Text: frag.Text}) {
			cancel()
			for range events {
			}
			<-errs
			return "", false, nil
		}
	}
	if err := <-errs; err != nil {
		if s.streaming && !yield(Fragment{Kind: KindTurnEnd, Speaker: s.speaker}) {
			return "", false, nil
		}
		return "", true, err
	}

	replyText := strings.TrimSpace(sb.String())
	if s.streaming {
		if !yield(Fragment{Kind: KindTurnEnd, Speaker: s.speaker}) {
			return "", false, nil
		}
	} else if !yield(Fragment{Kind: KindTurn, Speaker: s.speaker, Text: replyText}) {
		return "", false, nil
	}

	if s.limits.History {
		if err := o.store.Append(ctx, s.conversationID, s.speaker, s.lastMessage, replyText); err != nil {
			logging.BridgeWarn("history append failed for %s/%s: %v", s.conversationID, s.speaker, err)
		}
	}
	return replyText, true, nil
}

func (o *Orchestrator) loadHistory(ctx context.Context, conversationID, participant string) []types.Message {
	history, err := o.store.Load(ctx, conversationID, participant)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.BridgeWarn("history load failed for %s/%s: %v", conversationID, participant, err)
		}
		return nil
	}
	return history
}

func containsFold(s, token string) bool {
	return token != "" && strings.Contains(strings.ToLower(s), strings.ToLower(token))
}

func modeName(m command.TerminationMode) string {
	if m == command.AutoUntilStop {
		return "auto"
	}
	return "fixed"
}
