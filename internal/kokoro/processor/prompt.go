package processor

import (
	"strings"
	"time"
)

// relatedSnippetRunes bounds each related memory quoted in a prompt.
const relatedSnippetRunes = 280

const decisionInstructions = `You classify incoming content and decide what to do with it.
Reply with a single JSON object and nothing else. Fields:
- contentType: a short label for the kind of content (e.g. "greeting", "question", "report").
- delegateToProcessor: the name of one listed child processor better suited to this content, or null to handle it yourself.
- summary: one or two sentences describing the content.
- topics, entities: short lists, may be empty.
- sentiment: one of positive, neutral, negative, mixed.
- intent, timeContext: optional free text.
- confidence: 0..1, how sure you are of the classification.
- suggestedOutputs: actions on the available outputs only, each with name, data matching that output's schema, confidence and reasoning.
- updateTasks: recurring follow-ups worth scheduling, may be empty.
Never invent outputs or processors that are not listed.`

// systemPrompt joins the persona with the fixed decision instructions.
func systemPrompt(persona string) string {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		return decisionInstructions
	}
	return persona + "\n\n" + decisionInstructions
}

// buildPrompt lays out everything the backend needs to decide.
func (m *MasterProcessor) buildPrompt(content, otherContext string, io IOContext) string {
	var sb strings.Builder

	sb.WriteString("## Processor\n")
	sb.WriteString(m.Name())
	sb.WriteString("\n\n")

	if g := strings.TrimSpace(m.cfg.Guidance); g != "" {
		sb.WriteString("## Guidance\n")
		sb.WriteString(g)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Context\n")
	if strings.TrimSpace(otherContext) == "" {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(otherContext)
	}
	sb.WriteString("\n\n")

	if io.Platform != "" {
		sb.WriteString("## Source\n")
		sb.WriteString("platform: " + io.Platform + "\n")
		if io.Author != "" {
			sb.WriteString("author: " + io.Author + "\n")
		}
		if !io.ReceivedAt.IsZero() {
			sb.WriteString("received: " + io.ReceivedAt.UTC().Format(time.RFC3339) + "\n")
		}
		sb.WriteString("\n")
	}

	if len(io.Related) > 0 {
		sb.WriteString("## Related memories\n")
		for _, mem := range io.Related {
			sb.WriteString("- [")
			sb.WriteString(mem.Timestamp.UTC().Format(time.RFC3339))
			sb.WriteString("] ")
			sb.WriteString(truncateRunes(mem.Content, relatedSnippetRunes))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Available outputs\n")
	sb.WriteString(m.cfg.Outputs.String())
	sb.WriteString("\n")

	sb.WriteString("## Child processors\n")
	if names := m.ChildNames(); len(names) > 0 {
		for _, name := range names {
			sb.WriteString("- " + name + "\n")
		}
	} else {
		sb.WriteString("(none, delegateToProcessor must be null)\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Content\n")
	sb.WriteString(content)
	sb.WriteString("\n")
	return sb.String()
}

// appendContext grows the delegation context with the parent's summary.
func appendContext(otherContext, parent, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return otherContext
	}
	line := parent + " summary: " + summary
	if strings.TrimSpace(otherContext) == "" {
		return line
	}
	return otherContext + "\n" + line
}
