// Package bridge relays turns between two remote bots and dispatches inbound commands.
//
// Every operation produces an iter.Seq[Fragment]. The sequence is lazy: a remote call is
// made only when the observer asks for the next fragment, at most one call is in flight,
// and an observer that stops iterating cancels the outstanding call.
package bridge

import (
	"fmt"
	"iter"
	"strings"
)

// FragmentKind tags a unit of outbound output.
type FragmentKind string

const (
	// KindReply is a complete non-session reply (pong, help, usage, confirmations, reflect answers in batch mode).
	KindReply FragmentKind = "reply"
	// KindTurn is one completed turn in batch mode.
	KindTurn FragmentKind = "turn"
	// KindSpeaker opens a streamed turn.
	KindSpeaker FragmentKind = "speaker"
	// KindText is a live chunk of the current streamed turn.
	KindText FragmentKind = "text"
	// KindTurnEnd closes a streamed turn.
	KindTurnEnd FragmentKind = "turn_end"
	// KindNotice is a system notice (stop token seen, safety cap reached).
	KindNotice FragmentKind = "notice"
	// KindError reports a failed remote call; the session ends after it.
	KindError FragmentKind = "error"
)

// Fragment is one unit of output delivered to the observer.
type Fragment struct {
	Kind    FragmentKind `json:"kind"`
	Speaker string       `json:"speaker,omitempty"`
	Text    string       `json:"text,omitempty"`
}

func reply(text string) Fragment {
	return Fragment{Kind: KindReply, Text: text}
}

func notice(format string, args ...any) Fragment {
	return Fragment{Kind: KindNotice, Text: fmt.Sprintf(format, args...)}
}

// Transcript drains seq into the batch form: one line per turn formatted as
// "[speaker]: text", notices as "[system]: ..." and failures as "[error]: ...",
// joined by newlines. Streamed turns are reassembled into single lines.
func Transcript(seq iter.Seq[Fragment]) string {
	var lines []string
	var current strings.Builder
	speaker := ""
	// A streamed turn that failed before any text closes with an empty line; the
	// error line replaces it so streamed and batch transcripts agree.
	emptyTurn := false

	for f := range seq {
		if f.Kind == KindError && emptyTurn {
			lines = lines[:len(lines)-1]
		}
		emptyTurn = false
		switch f.Kind {
		case KindReply:
			lines = append(lines, f.Text)
		case KindTurn:
			lines = append(lines, line(f.Speaker, f.Text))
		case KindSpeaker:
			speaker = f.Speaker
			current.Reset()
		case KindText:
			current.WriteString(f.Text)
		case KindTurnEnd:
			text := strings.TrimSpace(current.String())
			lines = append(lines, line(speaker, text))
			emptyTurn = text == ""
			current.Reset()
		case KindNotice:
			lines = append(lines, line("system", f.Text))
		case KindError:
			lines = append(lines, line("error", f.Text))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderStream renders one fragment for a live observer. Concatenating the rendered
// fragments of a stream yields a readable transcript.
func RenderStream(f Fragment) string {
	switch f.Kind {
	case KindSpeaker:
		return "[" + f.Speaker + "]: "
	case KindText:
		return f.Text
	case KindTurnEnd:
		return "\n\n"
	case KindTurn:
		return line(f.Speaker, f.Text) + "\n"
	case KindNotice:
		return line("system", f.Text) + "\n"
	case KindError:
		return line("error", f.Text) + "\n"
	default:
		return f.Text + "\n"
	}
}

func line(speaker, text string) string {
	return "[" + speaker + "]: " + text
}
