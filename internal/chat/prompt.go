package chat

import (
	"fmt"
	"strings"

	"productos/api/internal/workspace"
)

// buildSystemPrompt generates the system instruction for one turn: a summary
// of every project for context, the selected mode's behavioral contract, and
// any optional feature instructions.
func buildSystemPrompt(projects []workspace.Project, mode Mode, opts Options) string {
	var b strings.Builder

	b.WriteString("You are the senior engineering and product consultant of \"Product OS\".\n")
	b.WriteString("CONTEXT - CURRENT PROJECTS:\n")
	if len(projects) == 0 {
		b.WriteString("(no projects yet)\n")
	}
	for _, p := range projects {
		fmt.Fprintf(&b, "\n=== PROJECT: %s ===\n", p.Name)
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
		fmt.Fprintf(&b, "Status: %s (progress: %d%%)\n", p.Status, p.Progress)
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
		fmt.Fprintf(&b, "Target audience: %s\n", orNA(p.StrategicFields.TargetAudience))
		fmt.Fprintf(&b, "Main pain point: %s\n", orNA(p.StrategicFields.MainPain))
		b.WriteString("Mapped blocks:\n")
		if len(p.Blocks) == 0 {
			b.WriteString("- (none yet)\n")
		}
		for _, block := range p.Blocks {
			fmt.Fprintf(&b, "- [%s] %s\n", block.Type, block.Content)
		}
	}
	b.WriteString("\n")

	switch mode {
	case ModeDebug:
		b.WriteString(`ACTIVE MODE: PROFESSIONAL DEBUGGER.
Analyze errors, logs and broken code and deliver the immediate fix.
Rules:
1. No preamble: go straight to the error analysis.
2. Explain the cause of the failure.
3. Provide the corrected code or the command to run.
4. Answer format: Diagnosis, Solution, Prevention.
`)
	case ModeIdea:
		b.WriteString(`ACTIVE MODE: IDEA BREAKDOWN (brainstorm and planning).
Turn vague ideas into concrete, viable product plans.
Rules:
1. Do NOT generate code yet; the focus is strategy.
2. Structure the idea: core concept, MVP for week one, key features,
   business model, recommended stack.
3. Be critical: point out flaws in the user's reasoning.
`)
	default:
		b.WriteString(`ACTIVE MODE: SOFTWARE ARCHITECT AND PROMPT GENERATOR.
Guide development and produce IDE-ready prompts.
Required flow:
1. Understanding first: when the user asks for something new, do not emit a
   code prompt immediately; ask up to three clarifying questions about
   missing specifics (design system, business rules, user flow).
2. Propose an approach and confirm it.
3. Only then produce the "master prompt" as a fenced markdown block with
   Context, Files, Stack and Rules sections.
Never generate a code block in the first answer on a new topic unless the
user already provided a complete specification.
`)
	}

	var features []string
	if opts.Reasoning {
		features = append(features, `ACTIVE FEATURE: REASONING (chain of thought).
Before answering, think through the problem step by step: analyze the
request, plan the solution, identify likely mistakes, and only then write
the final answer. Wrap the entire thinking process in <thinking>...</thinking>
tags before the answer.`)
	}
	if opts.WebSearch {
		features = append(features, `ACTIVE FEATURE: DEEP SEARCH (simulated).
Act as if you performed a deep web search on the topic, bring concrete data
from your knowledge, and open the answer with a quoted block summarizing the
searched terms and the main insights.`)
	}
	if len(features) > 0 {
		b.WriteString("\n=== ADDITIONAL INSTRUCTIONS ===\n")
		b.WriteString(strings.Join(features, "\n\n"))
		b.WriteString("\n")
	}

	return b.String()
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "N/A"
	}
	return value
}

// temperatureFor lowers sampling temperature in debug mode.
func temperatureFor(mode Mode) float32 {
	if mode == ModeDebug {
		return 0.2
	}
	return 0.7
}
