package interpreter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/convoflow/pkg/compiler"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/testutil"
)

type classifierMock struct {
	mock.Mock
}

func (m *classifierMock) EvaluateCondition(ctx context.Context, req ConditionRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

func (m *classifierMock) ClassifyIntent(ctx context.Context, req IntentRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

var at = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func compileDoc(t *testing.T, doc map[string]any) *models.Workflow {
	t.Helper()

	result := compiler.Compile(doc, compiler.Options{})
	require.True(t, result.OK(), "unexpected errors: %v", result.Errors)

	return result.Workflow
}

func start() Event {
	return Event{Kind: EventStart, At: at}
}

func message(text string) Event {
	return Event{Kind: EventMessage, Text: text, At: at}
}

func messages(effects []SideEffect) []string {
	var out []string

	for _, effect := range effects {
		if effect.Kind == EffectSendMessage {
			out = append(out, effect.Message)
		}
	}

	return out
}

func TestStep_EndToEndGreeting(t *testing.T) {
	wf := compileDoc(t, testutil.CreateGreetingDocument())

	result := New(nil, nil).Step(t.Context(), wf, nil, start())

	assert.True(t, result.Completed)
	assert.Equal(t, ReasonEnd, result.Reason)
	assert.Nil(t, result.State)
	assert.Equal(t, []SideEffect{{Kind: EffectSendMessage, NodeID: "greet", Message: "Hi"}}, result.Effects)
}

func collectDocument() map[string]any {
	return testutil.CreateGreetingDocument(
		testutil.WithNode("ask", "COLLECT_INFO", map[string]any{
			"prompt":     "What is your email?",
			"storeIn":    "email",
			"validation": map[string]any{"type": "email", "errorMessage": "That is not an email."},
		}),
		testutil.WithNode("greet", "MESSAGE", map[string]any{"message": "Thanks, {{ vars.email }}!"}),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "ask"},
			map[string]any{"source": "ask", "target": "greet"},
			map[string]any{"source": "greet", "target": "end"},
		),
	)
}

func TestStep_CollectInfoSuspendsAndResumes(t *testing.T) {
	wf := compileDoc(t, collectDocument())
	interp := New(nil, nil)

	first := interp.Step(t.Context(), wf, nil, start())
	require.NotNil(t, first.State)
	assert.False(t, first.Completed)
	assert.Equal(t, "ask", first.State.CurrentNodeID)
	assert.Equal(t, models.ExecutionWaiting, first.State.Status)
	assert.Equal(t, at, first.State.StartedAt)
	assert.Equal(t, []string{"What is your email?"}, messages(first.Effects))

	invalid := interp.Step(t.Context(), wf, first.State, message("not an email"))
	require.NotNil(t, invalid.State)
	assert.Equal(t, "ask", invalid.State.CurrentNodeID)
	assert.Equal(t, []string{"That is not an email.", "What is your email?"}, messages(invalid.Effects))
	assert.NotContains(t, invalid.State.Variables, "email")

	done := interp.Step(t.Context(), wf, invalid.State, message(" ana@example.com "))
	assert.True(t, done.Completed)
	assert.Equal(t, ReasonEnd, done.Reason)
	assert.Equal(t, []string{"Thanks, ana@example.com!"}, messages(done.Effects))

	// The caller's state is never mutated.
	assert.Empty(t, first.State.Variables)
}

func TestStep_ConditionExpression(t *testing.T) {
	doc := testutil.CreateGreetingDocument(
		testutil.WithNode("age", "COLLECT_INFO", map[string]any{
			"prompt": "How old are you?", "storeIn": "age", "validation": "number",
		}),
		testutil.WithNode("check", "CONDITION", map[string]any{"expression": "age >= 18"}),
		testutil.WithNode("adult", "MESSAGE", map[string]any{"message": "Welcome"}),
		testutil.WithNode("minor", "MESSAGE", map[string]any{"message": "Sorry"}),
		testutil.WithoutNode("greet"),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "age"},
			map[string]any{"source": "age", "target": "check"},
			map[string]any{"source": "check", "target": "adult", "sourceHandle": "true"},
			map[string]any{"source": "check", "target": "minor", "sourceHandle": "false"},
			map[string]any{"source": "adult", "target": "end"},
			map[string]any{"source": "minor", "target": "end"},
		),
	)
	wf := compileDoc(t, doc)
	interp := New(nil, nil)

	tests := []struct {
		answer   string
		expected string
	}{
		{answer: "21", expected: "Welcome"},
		{answer: "16,5", expected: "Sorry"},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			waiting := interp.Step(t.Context(), wf, nil, start())
			result := interp.Step(t.Context(), wf, waiting.State, message(tt.answer))

			assert.True(t, result.Completed)
			assert.Equal(t, []string{tt.expected}, messages(result.Effects))
		})
	}
}

func routerDocument(useLLM bool) map[string]any {
	return testutil.CreateGreetingDocument(
		testutil.WithNode("wait", "WAIT_RESPONSE", map[string]any{"variableName": "question"}),
		testutil.WithNode("route", "INTENT_ROUTER", map[string]any{
			"intents": []any{
				map[string]any{"name": "buy", "keywords": []any{"comprar", "preço"}},
				map[string]any{"name": "support", "keywords": []any{"ajuda"}},
			},
			"defaultOutcome": "other",
			"useLlm":         useLLM,
		}),
		testutil.WithNode("sell", "MESSAGE", map[string]any{"message": "Let me show you our products"}),
		testutil.WithNode("help", "HANDOFF", map[string]any{"reason": "support", "notifyTeam": true, "assignTo": "team-a"}),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "wait"},
			map[string]any{"source": "wait", "target": "route"},
			map[string]any{"source": "route", "target": "sell", "sourceHandle": "buy"},
			map[string]any{"source": "route", "target": "help", "sourceHandle": "support"},
			map[string]any{"source": "route", "target": "greet", "sourceHandle": "other"},
			map[string]any{"source": "sell", "target": "end"},
			map[string]any{"source": "greet", "target": "end"},
		),
	)
}

func TestStep_IntentRouterKeywords(t *testing.T) {
	wf := compileDoc(t, routerDocument(false))
	interp := New(nil, nil)

	waiting := interp.Step(t.Context(), wf, nil, start())
	require.NotNil(t, waiting.State)
	assert.Empty(t, waiting.Effects)

	t.Run("accent and case folded keyword", func(t *testing.T) {
		result := interp.Step(t.Context(), wf, waiting.State, message("Quero COMPRÁR agora"))

		assert.Equal(t, []string{"Let me show you our products"}, messages(result.Effects))
	})

	t.Run("handoff", func(t *testing.T) {
		result := interp.Step(t.Context(), wf, waiting.State, message("preciso de ajuda"))

		assert.True(t, result.Completed)
		assert.Equal(t, ReasonHandoff, result.Reason)
		require.Len(t, result.Effects, 1)
		assert.Equal(t, &HandoffSignal{NodeID: "help", Reason: "support", NotifyTeam: true, AssignTo: "team-a"}, result.Effects[0].Handoff)
	})

	t.Run("default outcome", func(t *testing.T) {
		result := interp.Step(t.Context(), wf, waiting.State, message("bom dia"))

		assert.Equal(t, []string{"Hi"}, messages(result.Effects))
	})
}

func TestStep_IntentRouterClassifier(t *testing.T) {
	wf := compileDoc(t, routerDocument(true))

	classifier := &classifierMock{}
	classifier.On("ClassifyIntent", mock.Anything, mock.MatchedBy(func(req IntentRequest) bool {
		return req.Text == "quanto custa?"
	})).Return("BUY", nil)
	classifier.On("ClassifyIntent", mock.Anything, mock.Anything).Return("", errors.New("model unavailable"))

	interp := New(nil, classifier)
	waiting := interp.Step(t.Context(), wf, nil, start())

	result := interp.Step(t.Context(), wf, waiting.State, message("quanto custa?"))
	assert.Equal(t, []string{"Let me show you our products"}, messages(result.Effects))

	failed := interp.Step(t.Context(), wf, waiting.State, message("hmm"))
	assert.True(t, failed.Completed)
	assert.Equal(t, ReasonClassifierError, failed.Reason)

	classifier.AssertExpectations(t)
}

func TestStep_LLMCondition(t *testing.T) {
	doc := testutil.CreateGreetingDocument(
		testutil.WithNode("mood", "CONDITION", map[string]any{
			"conditionType": "llm",
			"llmPrompt":     "Is the customer upset?",
			"outcomes":      []any{"yes", "no"},
		}),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "mood"},
			map[string]any{"source": "mood", "target": "greet", "sourceHandle": "no"},
			map[string]any{"source": "mood", "target": "end", "sourceHandle": "yes"},
			map[string]any{"source": "greet", "target": "end"},
		),
	)
	wf := compileDoc(t, doc)

	classifier := &classifierMock{}
	classifier.On("EvaluateCondition", mock.Anything, mock.MatchedBy(func(req ConditionRequest) bool {
		return req.Prompt == "Is the customer upset?" && len(req.Outcomes) == 2
	})).Return("No", nil).Once()

	result := New(nil, classifier).Step(t.Context(), wf, nil, start())
	assert.Equal(t, []string{"Hi"}, messages(result.Effects))

	withoutClassifier := New(nil, nil).Step(t.Context(), wf, nil, start())
	assert.Equal(t, ReasonClassifierError, withoutClassifier.Reason)

	classifier.AssertExpectations(t)
}

func TestStep_WaitResponseTimeout(t *testing.T) {
	doc := testutil.CreateGreetingDocument(
		testutil.WithNode("wait", "WAIT_RESPONSE", map[string]any{"variableName": "answer", "timeout": 60, "timeoutNodeId": "nudge"}),
		testutil.WithNode("nudge", "MESSAGE", map[string]any{"message": "Still there?"}),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "wait"},
			map[string]any{"source": "wait", "target": "greet"},
			map[string]any{"source": "greet", "target": "end"},
			map[string]any{"source": "nudge", "target": "end"},
		),
	)
	wf := compileDoc(t, doc)
	interp := New(nil, nil)

	waiting := interp.Step(t.Context(), wf, nil, start())

	timedOut := interp.Step(t.Context(), wf, waiting.State, Event{Kind: EventTimeout, At: at.Add(time.Minute)})
	assert.Equal(t, []string{"Still there?"}, messages(timedOut.Effects))
	assert.True(t, timedOut.Completed)

	answered := interp.Step(t.Context(), wf, waiting.State, message("yes"))
	assert.Equal(t, []string{"Hi"}, messages(answered.Effects))

	t.Run("without timeout node", func(t *testing.T) {
		wait := wf.Nodes["wait"]
		bare := *wf
		bare.Nodes = map[string]*models.Node{}

		for id, node := range wf.Nodes {
			bare.Nodes[id] = node
		}

		bare.Nodes["wait"] = &models.Node{ID: wait.ID, Type: wait.Type, Data: models.WaitResponseData{VariableName: "answer"}}

		result := interp.Step(t.Context(), &bare, waiting.State, Event{Kind: EventTimeout})
		assert.True(t, result.Completed)
		assert.Equal(t, ReasonTimeout, result.Reason)
	})

	t.Run("timeout elsewhere is a no-op", func(t *testing.T) {
		collect := compileDoc(t, collectDocument())
		suspended := interp.Step(t.Context(), collect, nil, start())

		result := interp.Step(t.Context(), collect, suspended.State, Event{Kind: EventTimeout})
		assert.False(t, result.Completed)
		assert.Empty(t, result.Effects)
		assert.Equal(t, suspended.State, result.State)
	})
}

func TestStep_SideEffects(t *testing.T) {
	doc := testutil.CreateGreetingDocument(
		testutil.WithNode("tag", "ASSIGN_TAG", map[string]any{"tags": []any{"lead"}}),
		testutil.WithNode("offer", "OFFER_PRODUCT", map[string]any{
			"messageTemplate":  "Take a look",
			"productSelection": map[string]any{"mode": "specific", "productIds": []any{"p1", "p2"}},
			"offerType":        "carousel",
			"handoffType":      "immediate",
		}),
		testutil.WithEdges(
			map[string]any{"source": "start", "target": "tag"},
			map[string]any{"source": "tag", "target": "offer"},
			map[string]any{"source": "offer", "target": "end"},
		),
	)
	wf := compileDoc(t, doc)

	result := New(nil, nil).Step(t.Context(), wf, nil, start())

	require.Len(t, result.Effects, 4)
	assert.Equal(t, SideEffect{Kind: EffectTagChange, NodeID: "tag", Tags: []string{"lead"}, TagAction: models.TagActionAdd}, result.Effects[0])
	assert.Equal(t, "Take a look", result.Effects[1].Message)
	assert.Equal(t, SideEffect{
		Kind:        EffectOfferProduct,
		NodeID:      "offer",
		ProductIDs:  []string{"p1", "p2"},
		ProductMode: models.ProductSelectionSpecific,
		OfferType:   "carousel",
	}, result.Effects[2])
	assert.Equal(t, EffectHandoff, result.Effects[3].Kind)
	assert.Equal(t, ReasonHandoff, result.Reason)
}

func TestStep_Anomalies(t *testing.T) {
	wf := compileDoc(t, testutil.CreateGreetingDocument())
	interp := New(nil, nil)

	t.Run("stale node", func(t *testing.T) {
		state := &models.ExecutionState{WorkflowID: wf.ID, CurrentNodeID: "removed", Status: models.ExecutionWaiting}

		result := interp.Step(t.Context(), wf, state, message("hello"))
		assert.True(t, result.Completed)
		assert.Equal(t, ReasonNodeNotFound, result.Reason)
	})

	t.Run("missing workflow", func(t *testing.T) {
		result := interp.Step(t.Context(), nil, nil, start())
		assert.Equal(t, ReasonWorkflowMissing, result.Reason)
	})

	t.Run("state from another workflow", func(t *testing.T) {
		state := &models.ExecutionState{WorkflowID: "other", CurrentNodeID: "greet"}

		result := interp.Step(t.Context(), wf, state, message("hello"))
		assert.Equal(t, ReasonWorkflowChanged, result.Reason)
	})

	t.Run("cycle hits the transition limit", func(t *testing.T) {
		cyclic := compileDoc(t, testutil.CreateGreetingDocument(
			testutil.WithNode("again", "MESSAGE", map[string]any{"message": "loop"}),
			testutil.WithEdges(
				map[string]any{"source": "start", "target": "greet"},
				map[string]any{"source": "greet", "target": "again"},
				map[string]any{"source": "again", "target": "greet"},
			),
		))

		limited := New(nil, nil)
		limited.MaxTransitions = 5

		result := limited.Step(t.Context(), cyclic, nil, start())
		assert.True(t, result.Completed)
		assert.Equal(t, ReasonTransitionLimit, result.Reason)
		assert.Len(t, result.Effects, 5)
	})
}
