package consciousness

import (
	"strings"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

const thoughtInstructions = `You are the inner voice of an autonomous assistant, thinking between conversations.
Reply with a single JSON object and nothing else, with fields thoughtType, thought, reasoning,
context (topic, timeframe, reliability) and suggestedActions (each with type, optional platform, description).`

func (c *Consciousness) systemPrompt() string {
	persona := strings.TrimSpace(c.cfg.Persona)
	if persona == "" {
		return thoughtInstructions
	}
	return persona + "\n\n" + thoughtInstructions
}

// buildPrompt embeds the history (most recent first) and the recent thoughts
// and asks for something new.
func (c *Consciousness) buildPrompt(history []memory.Memory, recent []recentThought) string {
	var sb strings.Builder

	sb.WriteString("## Now\n")
	sb.WriteString(c.now().UTC().Format(time.RFC3339))
	sb.WriteString("\n\n")

	sb.WriteString("## Recent memories (most recent first)\n")
	if len(history) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, m := range history {
		sb.WriteString("- [")
		sb.WriteString(m.Timestamp.UTC().Format(time.RFC3339))
		sb.WriteString("] ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	usedActions := make(map[string]bool)
	sb.WriteString("## Recent thoughts (do not repeat these themes)\n")
	if len(recent) == 0 {
		sb.WriteString("(none yet)\n")
	}
	for _, r := range recent {
		sb.WriteString("- ")
		sb.WriteString(r.content)
		sb.WriteString("\n")
		for _, a := range r.actions {
			usedActions[a] = true
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Task\n")
	sb.WriteString("Think one new thought that avoids the themes above.\n")
	sb.WriteString("thoughtType is one of: " + strings.Join(ThoughtTypes, ", ") + ".\n")
	sb.WriteString("Suggested action types are: " + strings.Join(ActionCategories, ", ") + ".\n")
	var fresh []string
	for _, a := range ActionCategories {
		if !usedActions[a] {
			fresh = append(fresh, a)
		}
	}
	if len(fresh) > 0 && len(fresh) < len(ActionCategories) {
		sb.WriteString("Recently used action types should be avoided; prefer: " + strings.Join(fresh, ", ") + ".\n")
	}
	return sb.String()
}
