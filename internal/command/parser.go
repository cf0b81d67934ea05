// Package command turns inbound observer text into a typed command.
//
// Grammar (keywords are case-insensitive, an optional leading marker is accepted):
//
//	ping
//	reset
//	bridge <botA> <botB> [<turns>|auto] : <topic>
//	reflect <question>
//
// Anything else is Help.
package command

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Markers lists the runes accepted as an optional command prefix. At most one is stripped.
const Markers = "/!"

// BridgeUsage echoes the exact accepted bridge grammar.
const BridgeUsage = "Usage: /bridge <botA> <botB> [turns|auto]: <topic>"

// ReflectUsage echoes the exact accepted reflect grammar.
const ReflectUsage = "Usage: /reflect <question>"

// HelpText is returned for input that matches no command.
const HelpText = `Commands:
  /bridge <botA> <botB> [turns|auto]: <topic>   relay a conversation between two bots
  /reflect <question>                           draft, critique and merge an answer
  reset                                         clear this conversation's memory
  ping                                          liveness check

Example:
  /bridge gpt-4o claude-3-5-sonnet 6: Debate tabs versus spaces.`

// Kind identifies what an inbound message asks for.
type Kind int

const (
	KindHelp Kind = iota
	KindPing
	KindReset
	KindBridge
	KindReflect
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindReset:
		return "reset"
	case KindBridge:
		return "bridge"
	case KindReflect:
		return "reflect"
	default:
		return "help"
	}
}

// TerminationMode selects how a bridge session ends.
type TerminationMode int

const (
	FixedTurns TerminationMode = iota
	AutoUntilStop
)

// BridgeConfig is the validated, immutable configuration of one bridge session.
type BridgeConfig struct {
	ParticipantA string
	ParticipantB string
	Topic        string
	Mode         TerminationMode
	Turns        int // only meaningful for FixedTurns
}

// Command is the parsed form of one inbound message.
type Command struct {
	Kind     Kind
	Bridge   BridgeConfig // KindBridge
	Question string       // KindReflect
}

// UsageError reports a malformed command. It is always rendered to the observer as
// Usage(), never propagated as a fault.
type UsageError struct {
	Reason string
	usage  string
}

func (e *UsageError) Error() string {
	return e.Reason
}

// Usage returns the message shown to the observer.
func (e *UsageError) Usage() string {
	return fmt.Sprintf("%s\n%s", e.Reason, e.usage)
}

// Limits bounds turn counts accepted by the parser.
type Limits struct {
	DefaultTurns int
	MaxTurns     int
}

// Parser parses inbound text against a set of limits.
type Parser struct {
	limits Limits
}

// NewParser creates a parser. Limits are assumed validated by the caller.
func NewParser(limits Limits) *Parser {
	return &Parser{limits: limits}
}

// Parse classifies raw text. A non-nil *UsageError is returned only for a recognized
// command keyword whose arguments are malformed.
func (p *Parser) Parse(raw string) (Command, error) {
	text := strings.TrimSpace(raw)
	body := stripMarker(text)

	switch strings.ToLower(body) {
	case "ping":
		return Command{Kind: KindPing}, nil
	case "reset":
		return Command{Kind: KindReset}, nil
	}

	keyword, rest := splitKeyword(body)
	switch strings.ToLower(keyword) {
	case "bridge":
		cfg, err := p.parseBridge(body)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindBridge, Bridge: cfg}, nil
	case "reflect":
		question := strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		if question == "" {
			return Command{}, &UsageError{Reason: "reflect needs a question", usage: ReflectUsage}
		}
		return Command{Kind: KindReflect, Question: question}, nil
	}

	return Command{Kind: KindHelp}, nil
}

func (p *Parser) parseBridge(body string) (BridgeConfig, error) {
	header, topic, found := strings.Cut(body, ":")
	if !found {
		return BridgeConfig{}, p.usage("missing ':' before the topic")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return BridgeConfig{}, p.usage("topic must not be empty")
	}

	tokens := strings.Fields(header)
	cfg := BridgeConfig{Topic: topic, Mode: FixedTurns, Turns: p.limits.DefaultTurns}

	switch len(tokens) {
	case 3:
	case 4:
		spec := tokens[3]
		if strings.EqualFold(spec, "auto") {
			cfg.Mode = AutoUntilStop
			cfg.Turns = 0
			break
		}
		n, err := strconv.Atoi(spec)
		if err != nil {
			return BridgeConfig{}, p.usage(fmt.Sprintf("turns must be a number or 'auto', got %q", spec))
		}
		if n < 1 || n > p.limits.MaxTurns {
			return BridgeConfig{}, p.usage(fmt.Sprintf("turns must be between 1 and %d, got %d", p.limits.MaxTurns, n))
		}
		cfg.Turns = n
	default:
		return BridgeConfig{}, p.usage(fmt.Sprintf("expected 2 bots and an optional turn count, got %d words before ':'", len(tokens)-1))
	}

	cfg.ParticipantA = tokens[1]
	cfg.ParticipantB = tokens[2]
	return cfg, nil
}

func (p *Parser) usage(reason string) *UsageError {
	return &UsageError{Reason: reason, usage: BridgeUsage}
}

// stripMarker removes at most one leading marker rune.
func stripMarker(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if size > 0 && strings.ContainsRune(Markers, r) {
		return text[size:]
	}
	return text
}

// splitKeyword returns the first word and the remainder. A colon also ends the keyword
// so "bridge: topic" is still recognized as a (malformed) bridge command.
func splitKeyword(body string) (string, string) {
	end := strings.IndexFunc(body, func(r rune) bool {
		return r == ':' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if end < 0 {
		return body, ""
	}
	return body[:end], body[end:]
}
