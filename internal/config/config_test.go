package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_AllowsDefaults(t *testing.T) {
	p := Provider{
		OpenAIChatURL:     "https://api.openai.com/v1/chat/completions",
		OpenAIResponseURL: "https://api.openai.com/v1/responses",
	}
	require.NoError(t, p.Validate())
}

func TestValidate_RejectsBadURLs(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Provider)
	}{
		{"http scheme", func(p *Provider) { p.OpenAIChatURL = "http://api.openai.com/v1/chat/completions" }},
		{"wrong host", func(p *Provider) { p.OpenAIChatURL = "https://evil.example.com/v1/chat/completions" }},
		{"wrong path", func(p *Provider) { p.OpenAIChatURL = "https://api.openai.com/v1/other" }},
		{"wrong responses path", func(p *Provider) { p.OpenAIResponseURL = "https://api.openai.com/v1/chat/completions" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := Provider{
				OpenAIChatURL:     "https://api.openai.com/v1/chat/completions",
				OpenAIResponseURL: "https://api.openai.com/v1/responses",
			}
			c.mut(&p)
			require.Error(t, p.Validate())
		})
	}
}

func TestLoadTuning_MissingFileUsesDefaults(t *testing.T) {
	got := LoadTuning(filepath.Join(t.TempDir(), "absent.json"))
	require.Equal(t, DefaultTuning(), got)
}

func TestLoadTuning_JSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bucket_ms": 500, "llm_max_tokens": 64}`), 0o644))

	got := LoadTuning(path)
	require.Equal(t, 500, got.BucketMs)
	require.Equal(t, 64, got.LLMMaxTokens)
	require.Equal(t, DefaultTuning().GateHangoverMs, got.GateHangoverMs)
}

func TestLoadTuning_MalformedFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{nope`), 0o644))
	require.Equal(t, DefaultTuning(), LoadTuning(path))
}
