package mapper_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aretw0/journey/internal/mapper"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refundGraph() *domain.Graph {
	b := dsl.New("refund")
	b.Action("collect").
		Label("Collect order").
		Prompt("Looking up order {{order_id}} for {{ customer.name }}").
		Go("check")
	b.Condition("check").
		Branch("amount > 100", "approve").
		Go("pay")
	b.Human("approve").
		Prompt("Approve refund of {{amount}}?").
		Variable("amount", domain.VarNumber, "0").
		Go("pay")
	b.Action("pay").
		Confirm().
		Variable("methods", domain.VarList, `["card","pix"]`).
		Go("done")
	b.Terminal("done")
	return b.Graph()
}

func TestMap_Counts(t *testing.T) {
	g := refundGraph()

	def, err := mapper.Map(g, mapper.DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, def.NodeStates, len(g.Nodes))
	assert.Len(t, def.EdgeTransitions, len(g.Edges))
	assert.Equal(t, "collect", def.EntryNodeID)
	assert.Equal(t, 1, def.MappingVersion)
	assert.Equal(t, g.Fingerprint(), def.Fingerprint)
}

func TestMap_Idempotent(t *testing.T) {
	first, err := mapper.Map(refundGraph(), mapper.DefaultOptions())
	require.NoError(t, err)
	second, err := mapper.Map(refundGraph(), mapper.DefaultOptions())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMap_StatesAndPolicies(t *testing.T) {
	def, err := mapper.Map(refundGraph(), mapper.DefaultOptions())
	require.NoError(t, err)

	tests := []struct {
		node     string
		stateID  string
		policy   domain.Policy
		decision bool
		final    bool
	}{
		{"approve", "state_approve", domain.PolicyRequiresHumanApproval, false, false},
		{"check", "state_check", domain.PolicyAuto, true, false},
		{"collect", "state_collect", domain.PolicyAuto, false, false},
		{"done", "state_done", domain.PolicyAuto, false, true},
		{"pay", "state_pay", domain.PolicyRequiresConfirmation, false, false},
	}

	for i, tt := range tests {
		s := def.NodeStates[i]
		assert.Equal(t, tt.node, s.NodeID, "states are sorted by node id")
		assert.Equal(t, tt.stateID, s.StateID)
		assert.Equal(t, tt.policy, s.Policy, tt.node)
		assert.Equal(t, tt.decision, s.Decision, tt.node)
		assert.Equal(t, tt.final, s.Final, tt.node)
		assert.NotEmpty(t, s.Prompt, tt.node)
	}
}

func TestMap_Triggers(t *testing.T) {
	b := dsl.New("choices")
	b.Human("pick").
		Intervention(domain.InterventionDecision).
		Choice("Express Shipping", "fast").
		Choice("", "slow")
	b.Action("fast").Go("end")
	b.Action("slow").Go("end")
	b.Terminal("end")

	def, err := mapper.Map(b.Graph(), mapper.DefaultOptions())
	require.NoError(t, err)

	byEdge := map[string]domain.TransitionMapping{}
	for _, tr := range def.EdgeTransitions {
		byEdge[tr.EdgeID] = tr
	}

	assert.Equal(t, "on-intent:express_shipping", byEdge["pick->fast"].Trigger.String())
	assert.Equal(t, "on-intent:slow", byEdge["pick->slow"].Trigger.String())
	assert.Equal(t, domain.TriggerAutomatic, byEdge["fast->end"].Trigger.Kind)
	assert.Equal(t, "tr_pick_fast", byEdge["pick->fast"].TransitionID)
	assert.Equal(t, "state_pick", byEdge["pick->fast"].FromState)

	g := refundGraph()
	def, err = mapper.Map(g, mapper.DefaultOptions())
	require.NoError(t, err)
	for _, tr := range def.EdgeTransitions {
		if tr.FromState == "state_check" {
			assert.Equal(t, domain.TriggerOnCondition, tr.Trigger.Kind, tr.EdgeID)
		}
	}
}

func TestMap_Variables(t *testing.T) {
	def, err := mapper.Map(refundGraph(), mapper.DefaultOptions())
	require.NoError(t, err)

	slots := map[string]domain.VariableMapping{}
	for _, v := range def.ContextVariables {
		slots[v.Slot] = v
	}

	require.Contains(t, slots, "collect_order_id")
	assert.Equal(t, domain.VarString, slots["collect_order_id"].Type)
	require.Contains(t, slots, "collect_customer")

	require.Contains(t, slots, "approve_amount")
	assert.Equal(t, domain.VarNumber, slots["approve_amount"].Type)
	assert.Equal(t, float64(0), slots["approve_amount"].Default)

	require.Contains(t, slots, "pay_methods")
	assert.Equal(t, []any{"card", "pix"}, slots["pay_methods"].Default)

	v, ok := def.Slot("approve", "amount")
	require.True(t, ok)
	assert.Equal(t, "approve_amount", v.Slot)
}

func TestMap_UnmappableVariable(t *testing.T) {
	b := dsl.New("upload")
	b.Human("attach").Variable("scan", "binary", nil).Go("end")
	b.Terminal("end")

	def, err := mapper.Map(b.Graph(), mapper.DefaultOptions())
	assert.Nil(t, def)

	var unmappable *domain.UnmappableVariableError
	require.True(t, errors.As(err, &unmappable))
	assert.Equal(t, "attach", unmappable.NodeID)
	assert.Equal(t, "scan", unmappable.Variable)
	assert.ErrorIs(t, err, domain.ErrUnmappableVariable)
}

func TestMap_Cyclic(t *testing.T) {
	g := &domain.Graph{
		WorkflowID: "loop",
		Entry:      "a",
		Nodes: []domain.Node{
			{ID: "a", Kind: domain.KindAction},
			{ID: "b", Kind: domain.KindAction},
		},
		Edges: []domain.Edge{
			{ID: "ab", Source: "a", Target: "b"},
			{ID: "ba", Source: "b", Target: "a"},
		},
	}

	def, err := mapper.Map(g, mapper.DefaultOptions())
	assert.Nil(t, def)
	assert.ErrorIs(t, err, domain.ErrCyclicGraph)
}

func TestMap_Empty(t *testing.T) {
	def, err := mapper.Map(&domain.Graph{WorkflowID: "empty"}, mapper.DefaultOptions())
	assert.Nil(t, def)
	assert.ErrorIs(t, err, domain.ErrEmptyGraph)
}

type rejectAll struct{}

func (rejectAll) Check(string) error { return errors.New("nope") }

func TestMap_GuardChecker(t *testing.T) {
	opts := mapper.DefaultOptions()
	opts.Guards = rejectAll{}

	_, err := mapper.Map(refundGraph(), opts)
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)
	assert.Contains(t, err.Error(), "invalid guard")
}

func TestMap_VersionAndJourneyID(t *testing.T) {
	opts := mapper.DefaultOptions()
	opts.Version = 4
	def, err := mapper.Map(refundGraph(), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, def.MappingVersion)
	assert.Regexp(t, `^journey_refund_[0-9a-f]{12}$`, def.JourneyID)

	opts.JourneyID = "custom"
	def, err = mapper.Map(refundGraph(), opts)
	require.NoError(t, err)
	assert.Equal(t, "custom", def.JourneyID)
}
