package synthesis_test

import (
	"fmt"
	"strings"
	"testing"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"

	"github.com/stretchr/testify/require"
)

func defaultPolicy(t *testing.T) *policy.RuleSet {
	t.Helper()
	rs, err := policy.Default()
	require.NoError(t, err)
	return rs
}

func sceneWithBeats(n int) model.SceneSpecification {
	spec := model.SceneSpecification{Title: fmt.Sprintf("Scene with %d beats", n)}
	for i := 0; i < n; i++ {
		spec.Beats = append(spec.Beats, model.Beat{
			Narration: fmt.Sprintf("Beat number %d explains one idea.", i+1),
			Visual:    "show a circle",
		})
	}
	return spec
}

// cleanFragment - фрагмент, проходящий правила по умолчанию для сцены из n битов.
func cleanFragment(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "with self.voiceover(text=\"Beat number %d explains one idea.\") as tracker:\n", i+1)
		fmt.Fprintf(&b, "    shape_%d = Circle(color=BLUE).shift(RIGHT * %d)\n", i, i)
		fmt.Fprintf(&b, "    self.play(Create(shape_%d), run_time=tracker.duration)\n", i)
	}
	return strings.TrimRight(b.String(), "\n")
}

func fenced(code string) string {
	return "Here is the scene:\n```python\n" + code + "\n```\n"
}
