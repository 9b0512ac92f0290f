package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	require.Nil(t, SplitList(""))
	require.Equal(t, []string{"a", "b"}, SplitList("a,b"))
	require.Equal(t, []string{"a", "b"}, SplitList(" a , b ,"))
}

func TestSnakeCase(t *testing.T) {
	require.Equal(t, "student_fee", snakeCase("StudentFee"))
	require.Equal(t, "invoice", snakeCase("Invoice"))
	require.Equal(t, "bill", snakeCase("bill"))
}

func TestBuildSwitchboardRegistersWorkflows(t *testing.T) {
	cfg := &Config{HighPriorityWorkflows: WorkflowPostJournalEntry}
	board := BuildSwitchboard(cfg, nil)

	require.True(t, board.IsWorkflowEnabled(WorkflowPostJournalEntry))
	require.True(t, board.IsWorkflowEnabled(WorkflowReverseJournalEntry))
	require.True(t, board.IsWorkflowEnabled(WorkflowProcessMovement))
	require.True(t, board.IsHighPriorityWorkflow(WorkflowPostJournalEntry))
	require.False(t, board.IsHighPriorityWorkflow(WorkflowProcessMovement))
	require.True(t, board.IsComponentEnabled(ComponentAccountingGateway))
}

func TestBuildSwitchboardWorkflowFailsClosedWithoutComponent(t *testing.T) {
	board := BuildSwitchboard(&Config{}, nil)

	require.NoError(t, board.DisableComponent(context.Background(), ComponentIdempotencyStore, nil))
	require.False(t, board.IsWorkflowEnabled(WorkflowPostJournalEntry),
		"disabling a dependency must disable the workflow")
}

func TestBuildRetryPolicy(t *testing.T) {
	cfg := &Config{
		RetryMaxAttempts:        4,
		RetryDelays:             "500ms,2s,bogus,8s",
		RetryFailedOutcomes:     true,
		CircuitFailureThreshold: 2,
		CircuitRecoveryTimeout:  30 * time.Second,
	}
	policy := BuildRetryPolicy(cfg)

	require.Equal(t, 4, policy.MaxAttempts)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second}, policy.Delays)
	require.True(t, policy.RetryFailedOutcomes)
	require.NotNil(t, policy.Breaker)
	require.Equal(t, 2, policy.Breaker.FailureThreshold)
}

func TestBuildRetryPolicyFallsBackToDefaults(t *testing.T) {
	policy := BuildRetryPolicy(&Config{RetryDelays: "bogus"})
	require.Equal(t, 3, policy.MaxAttempts)
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}, policy.Delays)
	require.False(t, policy.RetryFailedOutcomes)
}

func TestRouterServesHealthz(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json"})
	router := NewRouter(RouterParams{Logger: logger, Config: &Config{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
