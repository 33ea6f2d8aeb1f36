package discovery

import "github.com/brandon/mailsync/pkg/types"

// ToDiscoveredEmailConfig maps a discovery result into the published
// configuration shape, or nil when the result is a failure. Callers
// null-check instead of branching on an error field.
func ToDiscoveredEmailConfig(res Result, address string) *types.DiscoveredEmailConfig {
	if !res.Success || res.Config == nil {
		return nil
	}
	cfg := res.Config

	return &types.DiscoveredEmailConfig{
		Incoming: types.ServerSettings{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Security: imapSecurity(cfg.IMAP.TLS, cfg.IMAP.Port),
		},
		Outgoing: types.ServerSettings{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Security:   smtpSecurity(cfg.SMTP.Secure, cfg.SMTP.Port),
			AuthMethod: cfg.SMTP.Auth,
		},
		Provider:            cfg.Provider,
		DocumentationURL:    cfg.DocumentationURL,
		RequiresAppPassword: cfg.RequiresAppPassword,
		RequiresOAuth:       cfg.RequiresOAuth,
		Notes:               cfg.Notes,
		Source:              mapSource(res.Source),
		Confidence:          string(res.Confidence),
		Warnings:            res.Warnings,
	}
}

// smtpSecurity infers the outgoing TLS negotiation path. The secure
// flag wins; otherwise the submission ports imply STARTTLS.
func smtpSecurity(secure bool, port int) types.SecurityType {
	if secure {
		return types.SecuritySSL
	}
	if port == 587 || port == 143 {
		return types.SecurityStartTLS
	}
	return types.SecurityNone
}

// imapSecurity infers the incoming TLS negotiation path. Port 993 is
// SSL unconditionally and overrides the flag.
func imapSecurity(tls bool, port int) types.SecurityType {
	if port == 993 {
		return types.SecuritySSL
	}
	if tls {
		return types.SecurityStartTLS
	}
	return types.SecurityNone
}

// mapSource collapses the internal six-valued source enum into the
// public four-valued one. Intentionally lossy; never reversed.
func mapSource(s Source) types.ConfigSource {
	switch s {
	case SourceKnownProvider:
		return types.ConfigSourceDatabase
	case SourceAutoconfig, SourceAutodiscover:
		return types.ConfigSourceAutoconfig
	case SourceISPDB:
		return types.ConfigSourceISPDB
	case SourceDNSSRV, SourceMXHeuristic:
		return types.ConfigSourceMXLookup
	}
	return types.ConfigSourceMXLookup
}

// IsHighConfidence reports whether a result can be auto-applied without
// a live verification step.
func IsHighConfidence(res Result) bool {
	return res.Success && res.Confidence == ConfidenceHigh
}

// IsFullySSL reports whether both legs of a published configuration use
// implicit TLS.
func IsFullySSL(cfg *types.DiscoveredEmailConfig) bool {
	if cfg == nil {
		return false
	}
	return cfg.Incoming.Security == types.SecuritySSL && cfg.Outgoing.Security == types.SecuritySSL
}
