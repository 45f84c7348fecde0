package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
	}{
		"empty":               {"", ""},
		"collapses whitespace": {"a  b\t\tc", "a b c"},
		"newlines become spaces": {"line one\nline two\r\nline three", "line one line two line three"},
		"entities unescaped":  {"CRISPR &amp; gene editing", "CRISPR & gene editing"},
		"case preserved":      {"CRISPR Therapy", "CRISPR Therapy"},
		"nul stripped":        {"a\x00b", "ab"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeText(tc.input))
		})
	}
}

func TestCleanHTML(t *testing.T) {
	tests := map[string]struct {
		input string
		want  string
	}{
		"empty":      {"", ""},
		"plain text": {"no markup here", "no markup here"},
		"tags stripped": {
			"<p>A <b>breakthrough</b> in quantum computing.</p>",
			"A breakthrough in quantum computing.",
		},
		"script dropped": {
			"<script>alert(1)</script>summary text",
			"summary text",
		},
		"boilerplate only": {"<a href=\"#\">Read more</a>", ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanHTML(tc.input))
		})
	}
}

func TestNormalizeArticleText(t *testing.T) {
	title, summary, combined := NormalizeArticleText(
		"New  Vaccine   Results",
		"<p>Phase 3 trial&nbsp;data</p>",
	)

	assert.Equal(t, "New Vaccine Results", title)
	assert.Equal(t, "Phase 3 trial data", summary)
	assert.Equal(t, "New Vaccine Results Phase 3 trial data", combined)
}

func TestNormalizeArticleTextEmptyInputs(t *testing.T) {
	_, _, combined := NormalizeArticleText("", "")
	assert.Equal(t, "", combined)
}
