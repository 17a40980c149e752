package intent_test

import (
	"strings"
	"testing"

	"github.com/aretw0/journey/internal/intent"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWith(status domain.ExecutionStatus) *domain.ExecutionState {
	s := domain.NewExecutionState("s1", nil, 3)
	s.Status = status
	s.CurrentNodeID = "charge"
	s.History = []string{"collect", "charge"}
	s.CompletedNodes = []string{"collect"}
	s.AvailableActions = domain.AvailableActions(s)
	return s
}

func TestResolve_Commands(t *testing.T) {
	r := intent.NewResolver()
	running := stateWith(domain.StatusRunning)

	tests := []struct {
		utterance string
		want      domain.Command
	}{
		{"please pause this", domain.CommandPause},
		{"hold on a second", domain.CommandPause},
		{"STOP!", domain.CommandStop},
		{"cancel the whole thing", domain.CommandStop},
		{"where are we?", domain.CommandStatus},
		{"what went wrong", domain.CommandDebug},
		{"skip this step", domain.CommandSkip},
		{"explain", domain.CommandExplain},
		{"export as csv", domain.CommandExport},
		{"help", domain.CommandHelp},
		{"my order number is 1234", domain.CommandNone},
		{"don't stop", domain.CommandNone},
		{"", domain.CommandNone},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			got := r.Resolve(tt.utterance, nil, running)
			assert.Equal(t, tt.want, got.Command)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestResolve_PauseDependsOnAvailableActions(t *testing.T) {
	r := intent.NewResolver()

	got := r.Resolve("please pause this", nil, stateWith(domain.StatusRunning))
	assert.Equal(t, domain.CommandPause, got.Command)
	assert.GreaterOrEqual(t, got.Confidence, intent.DefaultThreshold)

	paused := r.Resolve("please pause this", nil, stateWith(domain.StatusPaused))
	assert.NotEqual(t, domain.CommandPause, paused.Command)
	for _, alt := range paused.Alternatives {
		assert.NotEqual(t, domain.CommandPause, alt.Command)
	}
}

func TestResolve_ResumeOnlyWhenPaused(t *testing.T) {
	r := intent.NewResolver()

	assert.Equal(t, domain.CommandNone, r.Resolve("resume", nil, stateWith(domain.StatusRunning)).Command)
	assert.Equal(t, domain.CommandResume, r.Resolve("resume", nil, stateWith(domain.StatusPaused)).Command)
}

func TestResolve_InformationalAlwaysCompatible(t *testing.T) {
	r := intent.NewResolver()
	done := stateWith(domain.StatusCompleted)

	assert.Equal(t, domain.CommandStatus, r.Resolve("status", nil, done).Command)
	assert.Equal(t, domain.CommandNone, r.Resolve("retry", nil, done).Command)
}

func TestResolve_HistoryProposal(t *testing.T) {
	r := intent.NewResolver()
	failed := stateWith(domain.StatusFailed)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "why did it break?"},
		{Role: domain.RoleAssistant, Content: "The charge step failed. Shall I retry it?", Proposed: domain.CommandRetry},
	}

	got := r.Resolve("yes, do it", history, failed)
	assert.Equal(t, domain.CommandRetry, got.Command)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)

	// Without a proposal a bare "yes" is ordinary input (it may answer a confirmation).
	assert.Equal(t, domain.CommandNone, r.Resolve("yes", nil, failed).Command)
}

func TestResolve_Parameters(t *testing.T) {
	r := intent.NewResolver()
	failed := stateWith(domain.StatusFailed)

	got := r.Resolve("retry charge because the gateway timed out", nil, failed)
	require.Equal(t, domain.CommandRetry, got.Command)
	assert.Equal(t, "charge", got.Parameters["node"])
	assert.Equal(t, "the gateway timed out", got.Parameters["reason"])

	export := r.Resolve("export as yaml", nil, failed)
	assert.Equal(t, "yaml", export.Parameters["format"])
}

func TestResolve_ReasonAfterNonASCIIText(t *testing.T) {
	r := intent.NewResolver()
	running := stateWith(domain.StatusRunning)

	tests := []struct {
		name      string
		utterance string
		reason    string
	}{
		{"rune grows when lowercased", strings.Repeat("Ⱥ", 10) + " stop because", ""},
		{"rune grows before reason", "Ⱥ stop BECAUSE the vendor cancelled", "the vendor cancelled"},
		{"rune shrinks when lowercased", "İİİ stop because it is late", "it is late"},
		{"reason keeps its own case", "Ärger: stop Because Ünterschrift fehlt!", "Ünterschrift fehlt"},
		{"marker inside a word", "stop becausewise", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.ResolvedIntent
			require.NotPanics(t, func() { got = r.Resolve(tt.utterance, nil, running) })
			assert.Equal(t, domain.CommandStop, got.Command)
			assert.Equal(t, tt.reason, got.Parameters["reason"])
		})
	}
}

func TestResolve_TieBreakUsesVocabularyOrder(t *testing.T) {
	r := intent.NewResolver()
	got := r.Resolve("pause or stop", nil, stateWith(domain.StatusRunning))
	assert.Equal(t, domain.CommandPause, got.Command)
	require.NotEmpty(t, got.Alternatives)
	assert.Equal(t, domain.CommandStop, got.Alternatives[0].Command)
}

func TestResolve_Threshold(t *testing.T) {
	strict := intent.NewResolver(intent.WithThreshold(0.95))
	got := strict.Resolve("could you wait for the customer reply", nil, stateWith(domain.StatusRunning))
	assert.Equal(t, domain.CommandNone, got.Command)
	require.NotEmpty(t, got.Alternatives)
	assert.Equal(t, domain.CommandPause, got.Alternatives[0].Command)
}

func TestResolve_Pure(t *testing.T) {
	r := intent.NewResolver()
	state := stateWith(domain.StatusRunning)
	history := []domain.Message{{Role: domain.RoleAssistant, Content: "Pause?", Proposed: domain.CommandPause}}

	first := r.Resolve("ok", history, state)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Resolve("ok", history, state))
	}
	assert.Equal(t, domain.StatusRunning, state.Status)
	assert.Len(t, history, 1)
}
