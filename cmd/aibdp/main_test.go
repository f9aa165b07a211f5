package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
)

const exampleManifestPath = "../../examples/aibdp.json"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		raw       []string
		expected  http.Header
		wantErr   bool
	}{
		{
			name:     "empty",
			expected: http.Header{},
		},
		{
			name:      "user agent only",
			userAgent: "GPTBot/1.0",
			expected:  http.Header{"User-Agent": {"GPTBot/1.0"}},
		},
		{
			name: "headers are trimmed and canonicalised",
			raw:  []string{"ai-purpose:  Training ", "AI-Consent-Reviewed:true"},
			expected: http.Header{
				"Ai-Purpose":          {"Training"},
				"Ai-Consent-Reviewed": {"true"},
			},
		},
		{
			name:     "value may contain colons",
			raw:      []string{"Referer: https://example.org:8443/x"},
			expected: http.Header{"Referer": {"https://example.org:8443/x"}},
		},
		{name: "missing colon", raw: []string{"AI-Purpose training"}, wantErr: true},
		{name: "empty name", raw: []string{": value"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseHeaders(tt.userAgent, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, h)
		})
	}
}

func TestCheckCommand(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantReject bool
		wantReason policy.Reason
		wantStatus int
	}{
		{
			name:       "browser passes",
			args:       []string{"--path", "/article.html", "-A", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0"},
			wantReason: policy.ReasonNotAgent,
			wantStatus: http.StatusOK,
		},
		{
			name:       "generation refused",
			args:       []string{"--path", "/", "-A", "GPTBot/1.0", "-H", "AI-Purpose: generation"},
			wantReject: true,
			wantReason: policy.ReasonRefused,
			wantStatus: policy.StatusConsentRequired,
		},
		{
			name:       "training needs evidence",
			args:       []string{"--path", "/article.html", "-A", "GPTBot/1.0"},
			wantReject: true,
			wantReason: policy.ReasonConditionsMissing,
			wantStatus: policy.StatusConsentRequired,
		},
		{
			name: "training with evidence",
			args: []string{
				"--path", "/blog/post", "-A", "GPTBot/1.0",
				"-H", "AI-Consent-Reviewed: true",
				"-H", "AI-Consent-Conditions: attribution",
			},
			wantReason: policy.ReasonConditionsMet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "draft exception refuses training",
			args:       []string{"--path", "/blog/drafts/next", "-A", "GPTBot/1.0"},
			wantReject: true,
			wantReason: policy.ReasonRefused,
			wantStatus: policy.StatusConsentRequired,
		},
		{
			name:       "indexing allowed",
			args:       []string{"--path", "/article.html", "-A", "Googlebot/2.1"},
			wantReason: policy.ReasonAllowed,
			wantStatus: http.StatusOK,
		},
		{
			name:       "enforce all evaluates browsers",
			args:       []string{"--path", "/", "--enforce-all", "-H", "AI-Purpose: generation"},
			wantReject: true,
			wantReason: policy.ReasonRefused,
			wantStatus: policy.StatusConsentRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"check", "--manifest", exampleManifestPath}, tt.args...)
			out, err := execute(t, args...)

			if tt.wantReject {
				var exit *exitError
				require.True(t, errors.As(err, &exit), "expected exit error, got %v", err)
				assert.Equal(t, exitCodeRejected, exit.code)
			} else {
				require.NoError(t, err)
			}

			var result checkResult
			require.NoError(t, json.Unmarshal([]byte(out), &result))
			assert.Equal(t, tt.wantReason, result.Reason)
			assert.Equal(t, tt.wantStatus, result.StatusCode)
			assert.Equal(t, tt.wantReject, result.Body != nil)
		})
	}
}

func TestCheckCommand_Errors(t *testing.T) {
	_, err := execute(t, "check", "--manifest", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load manifest")

	_, err = execute(t, "check", "--manifest", exampleManifestPath, "-H", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid header")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", exampleManifestPath)
	require.NoError(t, err)
	assert.Contains(t, out, "valid AIBDP 0.2 manifest")
	assert.Contains(t, out, "training")
	assert.Contains(t, out, "exceptions=1")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"policies": {"training": {"status": "maybe"}}}`), 0o600))
	_, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")

	_, err = execute(t, "validate")
	require.Error(t, err)
}

func TestLoadServeConfig(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--addr", ":8080",
		"--manifest", "site/aibdp.json",
		"--log-level", "DEBUG",
		"--enforce-all",
	}))

	cfg, err := loadServeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "site/aibdp.json", cfg.Manifest.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Enforcement.EnforceForAll)
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Parse(nil))

	cfg, err := loadServeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, ".well-known/aibdp.json", cfg.Manifest.Path)
	assert.False(t, cfg.Enforcement.EnforceForAll)
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := make([]string, 0, 3)
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "check", "validate"}, names)

}
