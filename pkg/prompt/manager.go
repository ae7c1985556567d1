package prompt

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

var (
	wordCount     int
	wordList      []string
	loadWordsOnce sync.Once
	loadErr       error
)

// InitWordList loads the global topic word list from a file at the given
// path. It is designed to be called once at application startup. It uses a
// sync.Once to ensure the word list is loaded only a single time, making
// subsequent calls a no-op. An error is returned if the file cannot be read.
func InitWordList(path string) error {
	loadWordsOnce.Do(func() {
		var words []string
		file, err := os.Open(path)
		if err != nil {
			loadErr = err
			wordList = []string{"fallback"}
			return
		}
		defer func(file *os.File) {
			_ = file.Close()
		}(file)

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			words = append(words, scanner.Text())
		}

		if err = scanner.Err(); err != nil {
			loadErr = err
			wordList = []string{"fallback"}
			return
		}

		wordList = words
	})
	wordCount = len(wordList)
	return loadErr
}

// Input is the payload a prompt template is rendered against.
type Input struct {
	// Persona flavors the system prompt, e.g. "wizened online denizen".
	Persona string
	// Topic steers the user prompt toward a theme.
	Topic string
}

// Manager is the central controller for the prompt engine. It manages the
// template set, configuration and function map, and is responsible for
// loading, parsing and executing prompt templates.
// All methods are concurrent-safe.
type Manager struct {
	logger         *slog.Logger
	config         Config
	whitelistMap   map[string]struct{}
	templates      *template.Template
	cleanTemplates *template.Template
	templateNames  []string
	funcMap        template.FuncMap
	templateDir    string
	mu             sync.RWMutex
}

// NewManager creates, initializes, and returns a new Manager. It requires a
// logger, a configuration, and the path to the data directory which must
// contain a "prompts" subdirectory and a "wordlist.txt" file. It performs an
// initial Refresh to load all templates.
func NewManager(logger *slog.Logger, config Config, dataDir string) (*Manager, error) {
	wordListFile := filepath.Join(dataDir, "wordlist.txt")
	templateDir := filepath.Join(dataDir, "prompts")

	if err := InitWordList(wordListFile); err != nil {
		return nil, err
	}

	m := &Manager{
		logger:       logger,
		config:       config,
		templateDir:  templateDir,
		whitelistMap: map[string]struct{}{},
	}
	m.funcMap = m.makeFuncMap()
	m.applyWhitelist()

	if err := m.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Prompt manager initialized")
	return m, nil
}

func (m *Manager) makeFuncMap() template.FuncMap {
	return template.FuncMap{
		"randomWord":   randomWord,
		"randomChoice": randomChoice,
		"randomInt":    randomInt,
		"repeat":       m.repeat,
		"list":         list,
		"add":          add,
		"sub":          sub,
		"mult":         mult,
		"inc":          inc,
		"dec":          dec,
	}
}

// applyWhitelist rebuilds the whitelist lookup from the config. Callers must
// hold m.mu or be running before the manager is shared.
func (m *Manager) applyWhitelist() {
	m.whitelistMap = map[string]struct{}{}
	for _, name := range m.config.TemplateWhitelist {
		m.whitelistMap[name] = struct{}{}
	}
}

// SetConfig applies a new configuration to the Manager. This allows the
// whitelist and rendering limits to change without restarting the daemon.
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	m.applyWhitelist()
}

// GetConfig returns a copy of the current configuration.
// This mainly exists for concurrency-safety reasons.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Refresh reloads all prompt templates from the filesystem. This allows
// updates to prompts without restarting the application.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePattern := filepath.Join(m.templateDir, "*.tmpl.txt")
	m.logger.Info("Loading prompt template files...")

	parsedFiles, err := template.New("").Funcs(m.funcMap).ParseGlob(filePattern)
	var names []string
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			m.logger.Error("failed to parse prompt template files", "error", err)
			return err
		}
		// No template files, so we have to create the object without any
		parsedFiles = template.New("").Funcs(m.funcMap)
		names = []string{}
	} else {
		for _, t := range parsedFiles.Templates() {
			// The root template has no name and is never executed directly
			if strings.Contains(t.Name(), ".tmpl.txt") {
				names = append(names, t.Name())
			}
		}
	}

	filePattern = filepath.Join(m.templateDir, "*.part.txt")
	m.logger.Info("Loading prompt partial files...")

	newParsedFiles, err := parsedFiles.ParseGlob(filePattern)
	if err != nil {
		if !strings.Contains(err.Error(), "pattern matches no files") {
			m.logger.Error("failed to parse prompt partial files", "error", err)
			return err
		}
		newParsedFiles = parsedFiles
	}

	if len(names) == 0 {
		m.logger.Warn("No prompt templates found matching pattern", "pattern", filePattern)
	}

	m.templates = newParsedFiles
	m.templateNames = names
	m.logger.Info("Loaded prompt templates", "count", len(names))

	// Create a clean clone for string executions after all parsing is complete.
	m.cleanTemplates, err = m.templates.Clone()
	if err != nil {
		m.logger.Error("failed to create a clean clone of prompt templates", "error", err)
		return err
	}

	return nil
}

// allowed reports whether the whitelist permits a template name. An empty
// whitelist permits everything.
func (m *Manager) allowed(name string) bool {
	if len(m.whitelistMap) == 0 {
		return true
	}
	_, ok := m.whitelistMap[name]
	return ok
}

// Execute renders a specific prompt template by name, writing the output to
// the provided io.Writer. The input is passed to the template as its data.
func (m *Manager) Execute(w io.Writer, name string, input Input) error {
	if name == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.allowed(name) {
		return fmt.Errorf("prompt template %q is not whitelisted", name)
	}
	return m.templates.ExecuteTemplate(w, name, input)
}

// Render is a convenience wrapper around Execute that returns the prompt as
// a string.
func (m *Manager) Render(name string, input Input) (string, error) {
	var builder strings.Builder
	if err := m.Execute(&builder, name, input); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// GetRandomTemplate returns the name of a randomly selected template from
// the set of loaded, whitelisted prompt templates. This is how a harvest run
// varies its prompting across requests.
func (m *Manager) GetRandomTemplate() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var eligible []string
	for _, name := range m.templateNames {
		if m.allowed(name) {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		return ""
	}
	return eligible[rand.IntN(len(eligible))]
}

// GetTemplateNames returns a slice of the loaded template names, including
// partials. This mainly exists for concurrency-safety reasons.
func (m *Manager) GetTemplateNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, t := range m.templates.Templates() {
		if strings.Contains(t.Name(), ".txt") {
			names = append(names, t.Name())
		}
	}
	return names
}

// GetTemplateDir returns the template dir that the Manager uses.
func (m *Manager) GetTemplateDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.templateDir
}

// ExecuteTemplateString parses and executes a raw template string using the
// manager's function map. This is ideal for previewing a prompt without
// saving it to disk.
func (m *Manager) ExecuteTemplateString(w io.Writer, content string, input Input) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Clone the clean, unexecuted template set to avoid race conditions and
	// execution state issues.
	tempSet, err := m.cleanTemplates.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone clean templates for string execution: %w", err)
	}

	t, err := tempSet.Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}

	return t.Execute(w, input)
}
