package chat

import (
	"strings"
	"testing"

	"productos/api/internal/workspace"
)

func TestBuildSystemPromptIncludesProjects(t *testing.T) {
	projects := []workspace.Project{
		{
			Name:        "Atlas",
			Category:    workspace.CategorySaaS,
			Status:      workspace.StatusInProgress,
			Progress:    40,
			Description: "Internal tooling",
			StrategicFields: workspace.StrategicFields{
				TargetAudience: "Platform teams",
			},
			Blocks: []workspace.Block{
				{Type: workspace.BlockText, Content: "Write the RFC"},
			},
		},
	}

	prompt := buildSystemPrompt(projects, ModePrompt, Options{})
	for _, want := range []string{
		"=== PROJECT: Atlas ===",
		"Status: in_progress (progress: 40%)",
		"Target audience: Platform teams",
		"Main pain point: N/A",
		"- [text] Write the RFC",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPromptEmptyWorkspace(t *testing.T) {
	prompt := buildSystemPrompt(nil, ModePrompt, Options{})
	if !strings.Contains(prompt, "(no projects yet)") {
		t.Error("expected empty-workspace marker")
	}
}

func TestBuildSystemPromptModes(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeDebug, "ACTIVE MODE: PROFESSIONAL DEBUGGER."},
		{ModeIdea, "ACTIVE MODE: IDEA BREAKDOWN"},
		{ModePrompt, "ACTIVE MODE: SOFTWARE ARCHITECT"},
		{Mode("unknown"), "ACTIVE MODE: SOFTWARE ARCHITECT"},
	}
	for _, tt := range tests {
		if prompt := buildSystemPrompt(nil, tt.mode, Options{}); !strings.Contains(prompt, tt.want) {
			t.Errorf("mode %s: prompt missing %q", tt.mode, tt.want)
		}
	}
}

func TestBuildSystemPromptFeatures(t *testing.T) {
	prompt := buildSystemPrompt(nil, ModePrompt, Options{Reasoning: true, WebSearch: true})
	if !strings.Contains(prompt, "ACTIVE FEATURE: REASONING") || !strings.Contains(prompt, "ACTIVE FEATURE: DEEP SEARCH") {
		t.Error("expected both feature instructions")
	}

	plain := buildSystemPrompt(nil, ModePrompt, Options{})
	if strings.Contains(plain, "ADDITIONAL INSTRUCTIONS") {
		t.Error("expected no feature section when options are off")
	}
}

func TestTemperatureFor(t *testing.T) {
	if got := temperatureFor(ModeDebug); got != 0.2 {
		t.Errorf("debug temperature = %v", got)
	}
	if got := temperatureFor(ModePrompt); got != 0.7 {
		t.Errorf("prompt temperature = %v", got)
	}
}
