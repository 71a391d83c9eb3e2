package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"scene-forge/internal/model"
	"scene-forge/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter считает вызовы шагов цикла.
type counter struct {
	initial, check, repair, emergency int
}

// newLoop строит цикл над int-кандидатами: кандидат проходит проверку, когда >= passAt.
func newLoop(max, passAt int, c *counter) *retry.Loop[int, string] {
	return &retry.Loop[int, string]{
		MaxIterations: max,
		Initial: func(ctx context.Context) (int, error) {
			c.initial++
			return 0, nil
		},
		Check: func(ctx context.Context, candidate int, iteration int) (string, bool, error) {
			c.check++
			if candidate >= passAt {
				return "", true, nil
			}
			return fmt.Sprintf("candidate %d too small", candidate), false, nil
		},
		Repair: func(ctx context.Context, candidate int, feedback string, iteration int) (int, error) {
			c.repair++
			return candidate + 1, nil
		},
		Emergency: func(ctx context.Context, last int, feedback string) (int, error) {
			c.emergency++
			return 1000, nil
		},
		Finalize: func(candidate int) int { return -candidate },
	}
}

func TestLoopPassesFirstTry(t *testing.T) {
	var c counter
	out, err := newLoop(6, 0, &c).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, out.Candidate)
	assert.Equal(t, 1, out.Iterations())
	assert.False(t, out.Emergency)
	assert.Equal(t, counter{initial: 1, check: 1}, c)
}

func TestLoopRepairsUntilPass(t *testing.T) {
	var c counter
	out, err := newLoop(6, 2, &c).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, -2, out.Candidate, "finalize applied to the passing candidate")
	require.Len(t, out.History, 3)
	for i, a := range out.History {
		assert.Equal(t, i, a.Iteration)
	}
	assert.True(t, out.History[2].Passed)
	assert.Equal(t, 2, c.repair)
	assert.Zero(t, c.emergency)
}

func TestLoopEmergencyAfterBudget(t *testing.T) {
	for _, max := range []int{1, 3, 6} {
		t.Run(fmt.Sprintf("max=%d", max), func(t *testing.T) {
			var c counter
			out, err := newLoop(max, 1_000_000, &c).Run(context.Background())
			require.NoError(t, err)

			assert.True(t, out.Emergency)
			assert.Equal(t, -1000, out.Candidate, "finalize applied to the emergency candidate")
			assert.Len(t, out.History, max)
			assert.Equal(t, 1, c.emergency)
			// initial + repairs + emergency == max + 1 генераций
			assert.Equal(t, max+1, c.initial+c.repair+c.emergency)
			for i, a := range out.History {
				assert.Equal(t, i, a.Iteration)
				assert.Equal(t, i, a.Candidate, "repair k operates on candidate k-1")
			}
		})
	}
}

func TestLoopExhaustedWithoutEmergency(t *testing.T) {
	var c counter
	loop := newLoop(3, 1_000_000, &c)
	loop.Emergency = nil

	out, err := loop.Run(context.Background())
	require.ErrorIs(t, err, model.ErrBudgetExhausted)
	assert.True(t, out.Exhausted)
	assert.Equal(t, 3, c.check)
	assert.Equal(t, 2, c.repair)
	assert.Equal(t, 2, out.Candidate, "last candidate is returned unfinalized")

	last, ok := out.Last()
	require.True(t, ok)
	assert.Equal(t, "candidate 2 too small", last.Feedback)
}

func TestLoopPropagatesStepErrors(t *testing.T) {
	boom := errors.New("backend down")

	t.Run("initial", func(t *testing.T) {
		var c counter
		loop := newLoop(6, 5, &c)
		loop.Initial = func(ctx context.Context) (int, error) { return 0, boom }
		_, err := loop.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, c.check)
	})

	t.Run("repair", func(t *testing.T) {
		var c counter
		loop := newLoop(6, 5, &c)
		loop.Repair = func(ctx context.Context, candidate int, feedback string, iteration int) (int, error) {
			return 0, boom
		}
		out, err := loop.Run(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Len(t, out.History, 1)
		assert.Zero(t, c.emergency)
	})

	t.Run("emergency", func(t *testing.T) {
		var c counter
		loop := newLoop(2, 5, &c)
		loop.Emergency = func(ctx context.Context, last int, feedback string) (int, error) { return 0, boom }
		_, err := loop.Run(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestLoopCancellationBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var c counter
	loop := newLoop(6, 5, &c)
	loop.Check = func(ctx context.Context, candidate int, iteration int) (string, bool, error) {
		c.check++
		if iteration == 1 {
			cancel()
		}
		return "dirty", false, nil
	}

	out, err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out.History, 2)
	assert.Equal(t, 1, c.repair)
	assert.Zero(t, c.emergency)
}

func TestLoopOnAttemptHook(t *testing.T) {
	var c counter
	loop := newLoop(4, 2, &c)
	var seen []int
	loop.OnAttempt = func(a retry.Attempt[int, string]) { seen = append(seen, a.Iteration) }

	_, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestLoopInvalidBudget(t *testing.T) {
	var c counter
	_, err := newLoop(0, 0, &c).Run(context.Background())
	assert.ErrorIs(t, err, model.ErrInvalidBudget)

	_, err = (&retry.Loop[int, string]{MaxIterations: 1}).Run(context.Background())
	assert.ErrorIs(t, err, model.ErrInvalidBudget)
}
