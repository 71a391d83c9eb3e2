package execution_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"scene-forge/internal/execution"
	"scene-forge/internal/mocks"
	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/synthesis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepairer возвращает заданный текст и запоминает полученную диагностику.
type fakeRepairer struct {
	text        string
	err         error
	diagnostics []string
	iterations  []int
}

func (r *fakeRepairer) Repair(_ context.Context, _ model.Candidate, fb model.Feedback, _ model.SceneSpecification, iteration int) (model.Candidate, error) {
	if r.err != nil {
		return model.Candidate{}, r.err
	}
	r.diagnostics = append(r.diagnostics, fb.Summary())
	r.iterations = append(r.iterations, iteration)
	return model.Candidate{Text: r.text, Provenance: model.ProvenanceRepair, Iteration: iteration}, nil
}

func newExecController(t *testing.T, attempts int, repairer execution.FragmentRepairer) *execution.Controller {
	t.Helper()
	a, err := execution.NewAssembler(execution.DefaultShellConfig())
	require.NoError(t, err)
	rs, err := policy.Default()
	require.NoError(t, err)
	c, err := execution.NewController(attempts, a, repairer, synthesis.NewSanitizer(rs), zap.NewNop())
	require.NoError(t, err)
	return c
}

func job() execution.Job {
	return execution.Job{
		Video:     testVideo(),
		Index:     0,
		Candidate: model.Candidate{Text: "self.wait(1)", Provenance: model.ProvenanceSynthesis, Sanitized: true},
	}
}

func TestExecutionControllerAlwaysFails(t *testing.T) {
	executor := mocks.NewMockExecutor(t)
	for i := 1; i <= 3; i++ {
		executor.On("Execute", mock.Anything, mock.Anything).
			Return(model.ExecutionResult{Diagnostic: fmt.Sprintf("RENDER_FAILED:\nerror %d", i)}, nil).Once()
	}
	repairer := &fakeRepairer{text: "self.wait(2)"}
	c := newExecController(t, 3, repairer)

	report, err := c.Run(context.Background(), job(), executor)

	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrExecutionBudgetExhausted))
	var exhausted *model.ExecutionBudgetExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "RENDER_FAILED:\nerror 3", exhausted.LastDiagnostic)
	assert.False(t, report.Result.Success)
	assert.Equal(t, 3, report.Result.Attempts)
	assert.Len(t, report.History, 3)
	assert.Equal(t, []string{"RENDER_FAILED:\nerror 1", "RENDER_FAILED:\nerror 2"}, repairer.diagnostics)
	assert.Equal(t, []int{1, 2}, repairer.iterations)
	executor.AssertNumberOfCalls(t, "Execute", 3)
}

func TestExecutionControllerRepairSucceeds(t *testing.T) {
	executor := mocks.NewMockExecutor(t)
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(p model.Program) bool {
		return p.SceneName == "Video2Scene1"
	})).Return(model.ExecutionResult{Diagnostic: "RENDER_FAILED:\nNameError"}, nil).Once()
	executor.On("Execute", mock.Anything, mock.Anything).
		Return(model.ExecutionResult{Success: true, ArtifactRef: "/tmp/v.mp4"}, nil).Once()
	repairer := &fakeRepairer{text: "```python\nimport os\nself.wait(3)\n```"}
	c := newExecController(t, 3, repairer)

	report, err := c.Run(context.Background(), job(), executor)
	require.NoError(t, err)

	assert.True(t, report.Result.Success)
	assert.Equal(t, "/tmp/v.mp4", report.Result.ArtifactRef)
	assert.Equal(t, 2, report.Result.Attempts)
	assert.Equal(t, "self.wait(3)", report.Candidate.Text)
	assert.True(t, report.Candidate.Sanitized)
	assert.Equal(t, model.ProvenanceRepair, report.Candidate.Provenance)
}

func TestExecutionControllerTimeoutConsumesAttempt(t *testing.T) {
	executor := mocks.NewMockExecutor(t)
	executor.On("Execute", mock.Anything, mock.Anything).
		Return(model.ExecutionResult{TimedOut: true, Diagnostic: "RENDER_FAILED: Rendering timeout after 10m0s"}, nil).Twice()
	c := newExecController(t, 2, &fakeRepairer{text: "self.wait(1)"})

	_, err := c.Run(context.Background(), job(), executor)

	var exhausted *model.ExecutionBudgetExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.True(t, exhausted.TimedOut)
	assert.Equal(t, 2, exhausted.Attempts)
}

func TestExecutionControllerInfrastructureErrorIsFatal(t *testing.T) {
	executor := mocks.NewMockExecutor(t)
	executor.On("Execute", mock.Anything, mock.Anything).
		Return(model.ExecutionResult{}, fmt.Errorf("%w: docker daemon is down", model.ErrExecutorUnavailable)).Once()
	repairer := &fakeRepairer{text: "self.wait(1)"}
	c := newExecController(t, 3, repairer)

	_, err := c.Run(context.Background(), job(), executor)

	assert.True(t, errors.Is(err, model.ErrExecutorUnavailable))
	assert.False(t, errors.Is(err, model.ErrExecutionBudgetExhausted))
	assert.Empty(t, repairer.diagnostics)
}

func TestExecutionControllerRepairBackendError(t *testing.T) {
	executor := mocks.NewMockExecutor(t)
	executor.On("Execute", mock.Anything, mock.Anything).
		Return(model.ExecutionResult{Diagnostic: "RENDER_FAILED:"}, nil).Once()
	c := newExecController(t, 3, &fakeRepairer{err: model.ErrBackend})

	_, err := c.Run(context.Background(), job(), executor)

	assert.True(t, errors.Is(err, model.ErrBackend))
}

func TestNewExecutionController(t *testing.T) {
	a, err := execution.NewAssembler(execution.DefaultShellConfig())
	require.NoError(t, err)
	rs, err := policy.Default()
	require.NoError(t, err)

	_, err = execution.NewController(0, a, &fakeRepairer{}, synthesis.NewSanitizer(rs), zap.NewNop())
	assert.True(t, errors.Is(err, model.ErrInvalidBudget))

	c := newExecController(t, 3, &fakeRepairer{})
	_, err = c.Run(context.Background(), execution.Job{Video: testVideo(), Index: 9}, mocks.NewMockExecutor(t))
	assert.True(t, errors.Is(err, model.ErrInvalidScene))
}
