package prompt

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestMain runs once before all tests in this package. It handles the
// one-time initialization of the global wordList from a temporary file.
func TestMain(m *testing.M) {
	tempDir, err := os.MkdirTemp("", "trawl-prompt-test-")
	if err != nil {
		log.Fatalf("failed to create temp dir for TestMain: %v", err)
	}

	wordsPath := filepath.Join(tempDir, "wordlist.txt")
	if err := os.WriteFile(wordsPath, []byte("forums\nfeeds\ntimelines\nthreads"), 0644); err != nil {
		log.Fatalf("failed to write global wordlist.txt: %v", err)
	}

	if err := InitWordList(wordsPath); err != nil {
		log.Fatalf("failed to init global word list: %v", err)
	}

	exitCode := m.Run()
	_ = os.RemoveAll(tempDir)
	os.Exit(exitCode)
}

// setupTestManager creates a Manager for a single test's scope. It relies on
// the globally initialized wordList.
func setupTestManager(tb testing.TB) *Manager {
	tb.Helper()

	dataDir := tb.TempDir()
	promptsPath := filepath.Join(dataDir, "prompts")
	if err := os.Mkdir(promptsPath, 0755); err != nil {
		tb.Fatalf("failed to create prompts dir: %v", err)
	}

	dummyWordsPath := filepath.Join(dataDir, "wordlist.txt")
	if err := os.WriteFile(dummyWordsPath, []byte("dummy"), 0644); err != nil {
		tb.Fatalf("failed to write dummy wordlist.txt: %v", err)
	}

	system := `{{define "system.tmpl.txt"}}You are {{.Persona}}.{{end}}`
	if err := os.WriteFile(filepath.Join(promptsPath, "system.tmpl.txt"), []byte(system), 0644); err != nil {
		tb.Fatalf("failed to write system template: %v", err)
	}
	user := `{{define "user.tmpl.txt"}}Write a proverb about {{.Topic}}. {{template "closing.part.txt" .}}{{end}}`
	if err := os.WriteFile(filepath.Join(promptsPath, "user.tmpl.txt"), []byte(user), 0644); err != nil {
		tb.Fatalf("failed to write user template: %v", err)
	}
	part := `{{define "closing.part.txt"}}One sentence only.{{end}}`
	if err := os.WriteFile(filepath.Join(promptsPath, "closing.part.txt"), []byte(part), 0644); err != nil {
		tb.Fatalf("failed to write partial template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(logger, DefaultConfig(), dataDir)
	if err != nil {
		tb.Fatalf("NewManager() failed: %v", err)
	}
	return m
}

func TestManagerExecute(t *testing.T) {
	m := setupTestManager(t)

	got, err := m.Render("system.tmpl.txt", Input{Persona: "a wizened online denizen"})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if got != "You are a wizened online denizen." {
		t.Errorf("Render() = %q", got)
	}
}

func TestManagerExecutePartial(t *testing.T) {
	m := setupTestManager(t)

	got, err := m.Render("user.tmpl.txt", Input{Topic: "search engines"})
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	want := "Write a proverb about search engines. One sentence only."
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestManagerWhitelist(t *testing.T) {
	m := setupTestManager(t)
	config := DefaultConfig()
	config.TemplateWhitelist = []string{"system.tmpl.txt"}
	m.SetConfig(config)

	if _, err := m.Render("system.tmpl.txt", Input{Persona: "x"}); err != nil {
		t.Errorf("Render() of whitelisted template failed: %v", err)
	}
	if _, err := m.Render("user.tmpl.txt", Input{}); err == nil {
		t.Error("Render() of non-whitelisted template succeeded")
	}
	if name := m.GetRandomTemplate(); name != "system.tmpl.txt" {
		t.Errorf("GetRandomTemplate() = %q, want the only whitelisted name", name)
	}
}

func TestManagerGetRandomTemplate(t *testing.T) {
	m := setupTestManager(t)

	name := m.GetRandomTemplate()
	if !strings.Contains(name, ".tmpl.txt") {
		t.Errorf("GetRandomTemplate() = %q, want a full template name", name)
	}
	if strings.Contains(name, ".part.txt") {
		t.Errorf("GetRandomTemplate() = %q, partials must never be chosen", name)
	}
}

func TestManagerGetTemplateNames(t *testing.T) {
	m := setupTestManager(t)

	names := m.GetTemplateNames()
	if len(names) != 3 {
		t.Errorf("GetTemplateNames() returned %d names, want 3 including the partial: %v", len(names), names)
	}
}

func TestManagerRefreshPicksUpNewTemplate(t *testing.T) {
	m := setupTestManager(t)

	extra := `{{define "extra.tmpl.txt"}}Extra.{{end}}`
	if err := os.WriteFile(filepath.Join(m.GetTemplateDir(), "extra.tmpl.txt"), []byte(extra), 0644); err != nil {
		t.Fatalf("failed to write extra template: %v", err)
	}
	if err := m.Refresh(); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	got, err := m.Render("extra.tmpl.txt", Input{})
	if err != nil {
		t.Fatalf("Render() of refreshed template failed: %v", err)
	}
	if got != "Extra." {
		t.Errorf("Render() = %q, want %q", got, "Extra.")
	}
}

func TestManagerExecuteTemplateString(t *testing.T) {
	m := setupTestManager(t)

	var builder strings.Builder
	err := m.ExecuteTemplateString(&builder, `Proverb about {{.Topic}}: {{template "closing.part.txt" .}}`, Input{Topic: "echo chambers"})
	if err != nil {
		t.Fatalf("ExecuteTemplateString() failed: %v", err)
	}
	want := "Proverb about echo chambers: One sentence only."
	if got := builder.String(); got != want {
		t.Errorf("ExecuteTemplateString() = %q, want %q", got, want)
	}
}

func TestManagerExecuteTemplateStringBadSyntax(t *testing.T) {
	m := setupTestManager(t)

	var builder strings.Builder
	if err := m.ExecuteTemplateString(&builder, `{{.Topic`, Input{}); err == nil {
		t.Error("ExecuteTemplateString() parsed invalid syntax")
	}
}

func TestManagerEmptyTemplateDir(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dataDir, "prompts"), 0755); err != nil {
		t.Fatalf("failed to create prompts dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "wordlist.txt"), []byte("dummy"), 0644); err != nil {
		t.Fatalf("failed to write wordlist: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(logger, DefaultConfig(), dataDir)
	if err != nil {
		t.Fatalf("NewManager() with empty dir failed: %v", err)
	}
	if name := m.GetRandomTemplate(); name != "" {
		t.Errorf("GetRandomTemplate() = %q, want empty for no templates", name)
	}
}
