package discovery

// Source identifies which strategy produced a configuration. This is the
// internal six-valued vocabulary; the normalizer collapses it into the
// public four-valued one.
type Source string

const (
	SourceKnownProvider Source = "known-provider"
	SourceAutoconfig    Source = "autoconfig"
	SourceAutodiscover  Source = "autodiscover"
	SourceISPDB         Source = "ispdb"
	SourceDNSSRV        Source = "dns-srv"
	SourceMXHeuristic   Source = "mx-heuristic"
)

// Confidence is the trust level attached to a discovered configuration.
// Low-confidence results are guesses and must pass a live connection
// test before being persisted as trusted.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SMTPSettings is the outgoing leg of a discovered configuration.
type SMTPSettings struct {
	Host   string
	Port   int
	Secure bool
	// Auth is one of plain, login, oauth2, cram-md5.
	Auth string
}

// IMAPSettings is the incoming leg of a discovered configuration.
type IMAPSettings struct {
	Host string
	Port int
	TLS  bool
}

// Config is the raw outcome of a successful discovery attempt. Both legs
// are always populated; a probe that can only produce one of them fails
// instead of returning a partial config.
type Config struct {
	SMTP SMTPSettings
	IMAP IMAPSettings

	Provider            string
	DocumentationURL    string
	RequiresAppPassword bool
	RequiresOAuth       bool
	Notes               string
}

// Result is the orchestrator's output envelope. Config is non-nil iff
// Success is true. Results are built once per call and never mutated.
type Result struct {
	Success    bool
	Config     *Config
	Source     Source
	Confidence Confidence
	Warnings   []string
	Err        string
}
