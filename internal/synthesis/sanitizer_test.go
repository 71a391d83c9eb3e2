package synthesis_test

import (
	"strings"
	"testing"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/synthesis"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	s := synthesis.NewSanitizer(defaultPolicy(t))

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "full program is reduced to fragment",
			in: "```python\n" +
				"from manim import *\n" +
				"import random\n" +
				"\n" +
				"class Broken(VoiceoverScene):\n" +
				"    def construct(self):\n" +
				"        with self.voiceover(text=\"Hi\") as tracker:\n" +
				"            self.play(self.camera.frame.animate.scale(0.5), run_time=tracker.duration)\n" +
				"            dot = Dot(CENTER)\n" +
				"```",
			want: "with self.voiceover(text=\"Hi\") as tracker:\n" +
				"    pass\n" +
				"    pass",
		},
		{
			name: "tabs and CRLF are normalized",
			in:   "with self.voiceover(text=\"a\") as tracker:\r\n\tself.play(Create(c), run_time=tracker.duration)  \r\n",
			want: "with self.voiceover(text=\"a\") as tracker:\n    self.play(Create(c), run_time=tracker.duration)",
		},
		{
			name: "inner blank lines are kept",
			in:   "\n\nself.add(a)\n\n\nself.add(b)\n\n",
			want: "self.add(a)\n\n\nself.add(b)",
		},
		{
			name: "already clean fragment is unchanged",
			in:   cleanFragment(2),
			want: cleanFragment(2),
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Sanitize(tc.in)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Sanitize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	s := synthesis.NewSanitizer(defaultPolicy(t))

	inputs := []string{
		"",
		"```\n```",
		"\t\tx = 1\n\t\t\ty = 2",
		"    a\n  b\n      c",
		"import numpy as np\n    x = np.pi",
		"  random.seed(1)\n  self.play(FadeIn(a))",
		"\r\r\nclass A:\n\r    pass",
		"``` python\ncode\n````",
		"text\u00a0\n \u00a0 indented",
		"def construct(self):\n        self.wait(1)\n    \n",
		fenced(cleanFragment(3)),
	}
	for _, in := range inputs {
		once := s.Sanitize(in)
		assert.Equal(t, once, s.Sanitize(once), "input %q", in)
	}
}

func FuzzSanitize(f *testing.F) {
	rs, err := policy.Default()
	if err != nil {
		f.Fatal(err)
	}
	s := synthesis.NewSanitizer(rs)

	f.Add("from manim import *\nclass S(Scene):\n    def construct(self):\n        self.play(self.camera.animate.shift(UP))")
	f.Add("\t```py\n\tx = math.pi\n\t```")
	f.Add("   \n\r\n  a\n    b")

	f.Fuzz(func(t *testing.T, in string) {
		once := s.Sanitize(in)
		if twice := s.Sanitize(once); twice != once {
			t.Fatalf("not idempotent for %q:\n%q\n%q", in, once, twice)
		}
		for _, line := range strings.Split(once, "\n") {
			if p, hit := rs.ForbiddenLine(line); hit {
				t.Fatalf("forbidden pattern %s survived in %q", p.Name, line)
			}
			if prefix, hit := rs.DisallowedPrefix(line); hit {
				t.Fatalf("disallowed prefix %q survived in %q", prefix, line)
			}
		}
	})
}

func TestSanitizeCandidate(t *testing.T) {
	s := synthesis.NewSanitizer(defaultPolicy(t))
	c := model.Candidate{Text: "import os\nself.wait(1)", Provenance: model.ProvenanceRepair, Iteration: 2}

	got := s.SanitizeCandidate(c)

	assert.True(t, got.Sanitized)
	assert.Equal(t, "self.wait(1)", got.Text)
	assert.Equal(t, model.ProvenanceRepair, got.Provenance)
	assert.Equal(t, 2, got.Iteration)
	assert.False(t, c.Sanitized, "original candidate must not change")
}
