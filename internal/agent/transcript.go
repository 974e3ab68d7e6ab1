package agent

import (
	"fmt"
	"strings"
)

type TurnKind string

const (
	TurnUserInput TurnKind = "USER_INPUT"
	TurnSteering  TurnKind = "STEERING"
	TurnAssistant TurnKind = "ASSISTANT"
	TurnTool      TurnKind = "TOOL"
)

// Turn is one entry of a Session's conversation. The backend sees the whole
// transcript rendered as a single user message.
type Turn struct {
	Kind TurnKind
	Text string
}

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

type Transcript struct {
	turns []Turn
}

func (t *Transcript) Append(kind TurnKind, text string) {
	t.turns = append(t.turns, Turn{Kind: kind, Text: text})
}

func (t *Transcript) Turns() []Turn {
	return append([]Turn(nil), t.turns...)
}

func (t *Transcript) Len() int { return len(t.turns) }

// Render formats the transcript for the backend. When the estimate exceeds
// budgetTokens the oldest turns after the first are dropped and replaced by a
// marker; the first turn (the task) and the newest turn are always kept.
func (t *Transcript) Render(budgetTokens int) (string, int) {
	if len(t.turns) == 0 {
		return "", 0
	}
	blocks := make([]string, len(t.turns))
	for i, turn := range t.turns {
		blocks[i] = renderTurn(turn)
	}
	dropped := 0
	if budgetTokens > 0 && len(blocks) > 2 {
		total := 0
		for _, b := range blocks {
			total += EstimateTokens(b)
		}
		for total > budgetTokens && 1+dropped < len(blocks)-1 {
			total -= EstimateTokens(blocks[1+dropped])
			dropped++
		}
	}
	var sb strings.Builder
	sb.WriteString(blocks[0])
	if dropped > 0 {
		fmt.Fprintf(&sb, "\n\n[... %d earlier turns omitted to fit the context budget ...]", dropped)
	}
	for _, b := range blocks[1+dropped:] {
		sb.WriteString("\n\n")
		sb.WriteString(b)
	}
	return sb.String(), dropped
}

func renderTurn(t Turn) string {
	switch t.Kind {
	case TurnAssistant:
		return "### ASSISTANT\n" + t.Text
	case TurnTool:
		return "### TOOL RESULT\n" + t.Text
	case TurnSteering:
		return "### NOTE\n" + t.Text
	default:
		return "### TASK\n" + t.Text
	}
}
