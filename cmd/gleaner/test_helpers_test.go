package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"gleaner/internal/config"
	"gleaner/internal/store"
	"gleaner/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

// setupCLITestEnv writes a config whose API bind points at a closed port so
// every command takes its local path.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GLEANER_NTFY_TOPIC", "")

	configPath := filepath.Join(base, "gleaner.toml")
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
inbox_dir = %q

[llm]
api_key = "test"

[api]
bind = "127.0.0.1:1"

[logging]
level = "error"
`, filepath.Join(base, "state"), filepath.Join(base, "logs"), filepath.Join(base, "inbox"))
	testsupport.WriteFile(t, configPath, []byte(content))

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) store(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	c := newCLI()
	var stdout, stderr bytes.Buffer
	c.root.SetOut(&stdout)
	c.root.SetErr(&stderr)
	c.root.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := c.execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substring string) {
	t.Helper()
	if !strings.Contains(output, substring) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", substring, output)
	}
}

func writeTranscript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteFile(t, path, []byte(body))
	return path
}
