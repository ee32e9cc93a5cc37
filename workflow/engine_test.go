package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrosense/agrosense/agents"
	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/llm"
	"github.com/agrosense/agrosense/planner"
	"github.com/agrosense/agrosense/router"
	"github.com/agrosense/agrosense/stream"
	"github.com/agrosense/agrosense/tool"
	"github.com/agrosense/agrosense/tool/agritools"
	"github.com/agrosense/agrosense/types"
)

// fakeMemory records appends in process; the engine only needs the
// Manager surface.
type fakeMemory struct {
	mu    sync.Mutex
	turns map[string][]types.Turn
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{turns: make(map[string][]types.Turn)}
}

func (f *fakeMemory) Load(ctx context.Context, conversationID string) (types.ConversationContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.ConversationContext{
		ConversationID: conversationID,
		Turns:          f.turns[conversationID],
	}, nil
}

func (f *fakeMemory) Append(ctx context.Context, conversationID string, turn types.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[conversationID] = append(f.turns[conversationID], turn)
	return nil
}

type engineFixture struct {
	engine   *Engine
	memory   *fakeMemory
	breakers *breaker.Registry
	provider *llm.MockProvider
}

func newEngineFixture(t *testing.T, provider *llm.MockProvider) *engineFixture {
	t.Helper()

	tools := tool.NewRegistry(0, 0)
	for _, name := range []string{
		agritools.WeatherName, agritools.EppoName, agritools.EphyName,
		agritools.FarmDataName, agritools.SearchName,
	} {
		require.NoError(t, tools.Register(tool.NewFunc(name, 0, func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"data":"ok"}`), nil
		})))
	}

	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, Cooldown: 30 * time.Second}, nil, nil)
	catalog := router.DefaultCatalog()
	classifier := router.NewClassifier(catalog, router.Config{}, nil)
	registry := agents.BuildRegistry(provider, nil, "mock-model", nil)
	pl := planner.New(catalog, registry, planner.Config{}, nil)
	executor := NewExecutor(tools, breakers, ExecutorConfig{}, nil, nil)
	moderator := agents.NewModerator(provider, "mock-model", nil)
	coordinator := NewCoordinator(moderator, CoordinatorConfig{}, nil)
	synthesizer := NewSynthesizer(SynthesizerConfig{}, nil)
	mem := newFakeMemory()

	engine := NewEngine(classifier, pl, registry, executor, coordinator, synthesizer,
		breakers, mem, EngineConfig{GroupRetries: 2, RetryBackoff: time.Millisecond}, nil, nil)

	return &engineFixture{engine: engine, memory: mem, breakers: breakers, provider: provider}
}

func runQuery(t *testing.T, fx *engineFixture, text string) (*WorkflowState, []stream.Event) {
	t.Helper()
	q := types.NewQuery("conv-1", text, &types.FarmContext{FarmID: "farm-7", Region: "91"})
	session := stream.NewSession(context.Background(), q.ID, 256)
	ws := fx.engine.Run(q, session)

	var events []stream.Event
	for ev := range session.Events() {
		events = append(events, ev)
	}
	return ws, events
}

func eventKinds(events []stream.Event) []stream.Kind {
	kinds := make([]stream.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestEngine_SingleAgentWeatherQuery(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Grand soleil demain à Dourdan, 24°C sans risque de pluie."))

	ws, events := runQuery(t, fx, "Quelle météo demain à Dourdan, risque de pluie ?")

	assert.Equal(t, StateComplete, ws.Current)
	assert.Equal(t, types.ModeSingle, ws.Plan.Mode)
	require.Len(t, ws.Plan.Groups, 1)
	assert.Equal(t, types.RoleWeather, ws.Plan.Groups[0].Role)

	kinds := eventKinds(events)
	assert.Equal(t, stream.KindStart, kinds[0])
	assert.Equal(t, stream.KindAgentSelected, kinds[1])
	assert.Equal(t, stream.KindDone, kinds[len(kinds)-1])

	last := events[len(events)-1]
	require.NotNil(t, last.Answer)
	assert.Contains(t, last.Answer.Text, "soleil")
	assert.False(t, last.Answer.Degraded)

	// token events reassemble into the answer text
	var rebuilt string
	for _, ev := range events {
		if ev.Kind == stream.KindToken {
			rebuilt += ev.Token
		}
	}
	assert.Equal(t, last.Answer.Text, rebuilt)
}

func TestEngine_SequentialCropHealthThenRegulatory(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider(
		"Le mildiou est confirmé, un traitement fongicide est recommandé.",
		"Deux produits disposent d'une AMM valide pour cet usage.",
	))

	ws, events := runQuery(t, fx, "Le mildiou attaque mes cultures, quels produits AMM sont autorisés ?")

	assert.Equal(t, StateComplete, ws.Current)
	assert.Equal(t, types.ModeSequential, ws.Plan.Mode)
	require.Len(t, ws.Plan.Groups, 2)
	assert.Equal(t, types.RoleCropHealth, ws.Plan.Groups[0].Role)
	assert.Equal(t, types.RoleRegulatory, ws.Plan.Groups[1].Role)

	last := events[len(events)-1]
	require.Equal(t, stream.KindDone, last.Kind)
	require.NotNil(t, last.Answer)
	// both experts contribute to the final answer
	assert.Contains(t, last.Answer.Text, "mildiou")
	assert.Contains(t, last.Answer.Text, "AMM")
	assert.Len(t, last.Answer.Contributors, 2)

	selected := make([]types.AgentRole, 0, 2)
	for _, ev := range events {
		if ev.Kind == stream.KindAgentSelected {
			selected = append(selected, ev.Role)
		}
	}
	assert.Equal(t, []types.AgentRole{types.RoleCropHealth, types.RoleRegulatory}, selected)
}

func TestEngine_ParallelPeers(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider(
		"Pluie annoncée jeudi.",
		"Vos parcelles ont reçu deux interventions ce mois-ci.",
	))

	ws, events := runQuery(t, fx, "Quelle météo et risque de pluie sur mes parcelles ?")

	assert.Equal(t, StateComplete, ws.Current)
	assert.Equal(t, types.ModeParallel, ws.Plan.Mode)
	require.Len(t, ws.Plan.Groups, 2)

	last := events[len(events)-1]
	require.Equal(t, stream.KindDone, last.Kind)
	assert.Len(t, last.Answer.Contributors, 2)
}

func TestEngine_RecordsToolInvocations(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Grand soleil."))

	ws, _ := runQuery(t, fx, "Quelle météo demain ?")

	require.NotEmpty(t, ws.Invocations)
	assert.Equal(t, agritools.WeatherName, ws.Invocations[0].Tool)
	assert.True(t, ws.Invocations[0].OK())
}

func TestEngine_AppendsTurnToMemory(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Grand soleil."))

	runQuery(t, fx, "Quelle météo demain ?")

	fx.memory.mu.Lock()
	defer fx.memory.mu.Unlock()
	turns := fx.memory.turns["conv-1"]
	require.Len(t, turns, 1)
	assert.Equal(t, "Quelle météo demain ?", turns[0].User.Content)
	assert.Equal(t, []string{"weather"}, turns[0].Roles)
}

func TestEngine_PriorTurnsInfluenceRouting(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Réponse.", "Réponse again."))

	// first query seeds the conversation with weather vocabulary
	ws, _ := runQuery(t, fx, "Quelle météo demain, risque de gel ?")
	require.Equal(t, types.RoleWeather, ws.Plan.Groups[0].Role)

	// the follow-up alone is ambiguous; prior context tips it
	ws2, _ := runQuery(t, fx, "Et pour le gel après-demain ?")
	assert.Equal(t, types.RoleWeather, ws2.Plan.Groups[0].Role)
	assert.Equal(t, StateComplete, ws2.Current)
}

func TestEngine_AllAgentsFailingIsTerminalError(t *testing.T) {
	provider := llm.NewMockProvider("unused").WithError(fmt.Errorf("provider down"))
	fx := newEngineFixture(t, provider)

	ws, events := runQuery(t, fx, "Quelle météo demain ?")

	assert.Equal(t, StateFailed, ws.Current)
	assert.Equal(t, types.ErrCodeNoUsableResults, ws.FailReason)

	last := events[len(events)-1]
	require.Equal(t, stream.KindError, last.Kind)
	require.NotNil(t, last.Err)
	assert.Equal(t, types.ErrCodeNoUsableResults, last.Err.Code)

	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestEngine_RetriesBeforeGivingUp(t *testing.T) {
	provider := llm.NewMockProvider("unused").WithError(fmt.Errorf("transient"))
	fx := newEngineFixture(t, provider)

	runQuery(t, fx, "Quelle météo demain ?")

	// one initial attempt plus two retries
	assert.Equal(t, 3, provider.CallCount())
}

func TestEngine_OpenAgentBreakerFailsFast(t *testing.T) {
	provider := llm.NewMockProvider("unused").WithError(fmt.Errorf("provider down"))
	fx := newEngineFixture(t, provider)

	cb := fx.breakers.Get("agent:weather")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, cb.State())

	ws, _ := runQuery(t, fx, "Quelle météo demain ?")

	assert.Equal(t, StateFailed, ws.Current)
	// the open breaker short-circuits: the provider is never called
	assert.Zero(t, provider.CallCount())
}

func TestEngine_CancelledSession(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Réponse."))

	q := types.NewQuery("conv-1", "Quelle météo demain ?", nil)
	session := stream.NewSession(context.Background(), q.ID, 256)
	session.Cancel()

	ws := fx.engine.Run(q, session)

	assert.Equal(t, StateFailed, ws.Current)
	assert.Equal(t, types.ErrCodeCancelled, ws.FailReason)
}

func TestEngine_FallbackToGeneral(t *testing.T) {
	fx := newEngineFixture(t, llm.NewMockProvider("Je peux vous aider sur la conduite de vos cultures."))

	ws, events := runQuery(t, fx, "Bonjour !")

	assert.Equal(t, StateComplete, ws.Current)
	require.Len(t, ws.Plan.Groups, 1)
	assert.Equal(t, types.RoleGeneral, ws.Plan.Groups[0].Role)
	assert.Equal(t, stream.KindDone, events[len(events)-1].Kind)
}
