package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"", ModeEmpty},
		{"   ", ModeEmpty},
		{"*.rs", ModeExt},
		{"*.tar_gz", ModeExt},
		{"*.RS", ModeExt},
		// Dashes and extra dots disqualify the ext form.
		{"*.r-s", ModeGlob},
		{"*.rs.bak", ModeGlob},
		{"*", ModeGlob},
		{"foo*bar", ModeGlob},
		{"foo?", ModeGlob},
		{"src/main.go", ModePath},
		{`src\main.go`, ModePath},
		{"readme.md", ModeName},
		{"a", ModeName},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.in), "query %q", tc.in)
	}
}

func TestGlobToLike(t *testing.T) {
	cases := []struct {
		glob, like string
	}{
		{"*.rs.bak", `%.rs.bak`},
		{"a?c", `a_c`},
		{"100%", `100\%`},
		{"under_score", `under\_score`},
		{`*100\%_done*`, `%100\%\_done%`},
		{`back\\slash`, `back\\slash`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.like, globToLike(tc.glob), "glob %q", tc.glob)
	}
}
