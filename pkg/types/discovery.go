package types

// SecurityType names the TLS negotiation path a caller should attempt
// for one server leg.
type SecurityType string

const (
	SecuritySSL      SecurityType = "SSL"
	SecurityStartTLS SecurityType = "STARTTLS"
	SecurityNone     SecurityType = "NONE"
)

// ConfigSource is the coarse public vocabulary for where a discovered
// configuration came from. It is intentionally lossier than the internal
// source enum so discovery internals can change without breaking callers.
type ConfigSource string

const (
	ConfigSourceDatabase   ConfigSource = "database"
	ConfigSourceAutoconfig ConfigSource = "autoconfig"
	ConfigSourceISPDB      ConfigSource = "ispdb"
	ConfigSourceMXLookup   ConfigSource = "mx_lookup"
)

// ServerSettings describes one leg (incoming or outgoing) of a
// discovered configuration.
type ServerSettings struct {
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	Security SecurityType `json:"security"`
	// AuthMethod is only populated on the outgoing leg.
	AuthMethod string `json:"auth_method,omitempty"`
}

// DiscoveredEmailConfig is the published outcome of account discovery.
// It is the only discovery shape the rest of the application consumes.
type DiscoveredEmailConfig struct {
	Incoming ServerSettings `json:"incoming"`
	Outgoing ServerSettings `json:"outgoing"`

	Provider            string       `json:"provider,omitempty"`
	DocumentationURL    string       `json:"documentation_url,omitempty"`
	RequiresAppPassword bool         `json:"requires_app_password"`
	RequiresOAuth       bool         `json:"requires_oauth"`
	Notes               string       `json:"notes,omitempty"`
	Source              ConfigSource `json:"source"`
	Confidence          string       `json:"confidence"`
	Warnings            []string     `json:"warnings,omitempty"`
}
