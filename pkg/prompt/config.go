package prompt

// Config holds all configuration options for the prompt engine.
type Config struct {
	// TemplateWhitelist restricts which template names may be executed or
	// chosen at random. Empty means every loaded template is allowed.
	TemplateWhitelist []string

	// MaxRepeat sets a hard upper limit on the count accepted by the repeat
	// template function, so a bad template cannot render unbounded output.
	MaxRepeat int
}

// DefaultConfig returns a Config with safe default values. The whitelist is
// empty by default, so every template found in the data directory is usable.
func DefaultConfig() Config {
	return Config{
		TemplateWhitelist: []string{},
		MaxRepeat:         100,
	}
}
