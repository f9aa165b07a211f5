package agent

import (
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestIsAutomatedAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want bool
	}{
		{"gptbot", "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.0; +https://openai.com/gptbot)", true},
		{"gptbot bare", "GPTBot/1.0", true},
		{"case insensitive", "gptbot/1.0", true},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"common crawl", "CCBot/2.0 (https://commoncrawl.org/faq/)", true},
		{"facebook", "facebookexternalhit/1.1", true},
		{"archive", "ia_archiver", true},
		{"perplexity", "PerplexityBot/1.0", true},
		{"browser", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0", false},
		{"curl", "curl/8.5.0", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAutomatedAgent(tt.ua))
		})
	}
}

func TestIdentify_ReturnsFirstSignature(t *testing.T) {
	// ChatGPT-User is listed after GPTBot, so a UA carrying both tokens is
	// reported as GPTBot.
	name, ok := Default().Identify("GPTBot ChatGPT-User")
	assert.True(t, ok)
	assert.Equal(t, "GPTBot", name)

	_, ok = Default().Identify("Safari/605.1.15")
	assert.False(t, ok)
}

func TestInferPurpose(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"explicit header", map[string]string{"AI-Purpose": "generation"}, "generation"},
		{"explicit header lower-cased", map[string]string{"AI-Purpose": "Indexing"}, "indexing"},
		{"explicit header kept verbatim", map[string]string{"AI-Purpose": "fine-tuning/v2"}, "fine-tuning/v2"},
		{"header key is case-insensitive", map[string]string{"ai-purpose": "TRAINING"}, "training"},
		{"explicit beats user agent", map[string]string{"AI-Purpose": "indexing", "User-Agent": "GPTBot/1.0"}, "indexing"},
		{"gptbot implies training", map[string]string{"User-Agent": "GPTBot/1.0"}, "training"},
		{"claude-web implies indexing", map[string]string{"User-Agent": "Claude-Web/1.0"}, "indexing"},
		{"google-extended implies training", map[string]string{"User-Agent": "Google-Extended"}, "training"},
		{"googlebot implies indexing", map[string]string{"User-Agent": "Googlebot/2.1"}, "indexing"},
		{"known agent without mapping", map[string]string{"User-Agent": "CCBot/2.0"}, PurposeUnknown},
		{"empty purpose header falls through", map[string]string{"AI-Purpose": "", "User-Agent": "GPTBot"}, "training"},
		{"nothing", map[string]string{}, PurposeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, InferPurpose(h))
		})
	}
}

func TestInferPurpose_NilHeader(t *testing.T) {
	assert.Equal(t, PurposeUnknown, InferPurpose(nil))
}

func TestClassifier_CustomTables(t *testing.T) {
	c := New(
		[]Signature{{Name: "ExampleBot", Pattern: regexp.MustCompile(`(?i)examplebot`)}},
		[]PurposeRule{{Pattern: regexp.MustCompile(`(?i)examplebot`), Purpose: "generation"}},
	)

	assert.True(t, c.IsAutomatedAgent("ExampleBot/0.1"))
	assert.False(t, c.IsAutomatedAgent("GPTBot/1.0"))

	h := http.Header{}
	h.Set("User-Agent", "examplebot")
	assert.Equal(t, "generation", c.InferPurpose(h))
}

func TestClassifier_ZeroValue(t *testing.T) {
	var c Classifier
	assert.False(t, c.IsAutomatedAgent("GPTBot"))

	var nilC *Classifier
	assert.False(t, nilC.IsAutomatedAgent("GPTBot"))
	h := http.Header{}
	h.Set("User-Agent", "GPTBot")
	assert.Equal(t, PurposeUnknown, nilC.InferPurpose(h))
}

func TestInferPurpose_DeclaredPurposeAlwaysWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		purpose := rapid.StringMatching(`[a-zA-Z][a-zA-Z0-9_-]{0,15}`).Draw(t, "purpose")
		ua := rapid.SampledFrom([]string{"GPTBot/1.0", "Googlebot/2.1", "Claude-Web", "curl/8", ""}).Draw(t, "ua")

		h := http.Header{}
		h.Set("AI-Purpose", purpose)
		h.Set("User-Agent", ua)

		got := InferPurpose(h)
		want := strings.ToLower(purpose)
		if got != want {
			t.Fatalf("InferPurpose = %q, want %q", got, want)
		}
	})
}
