package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// defaultProbeTimeout bounds each network probe individually.
	defaultProbeTimeout = 5 * time.Second
	// defaultTimeout bounds a whole Discover call so a "test
	// connection" action can never hang.
	defaultTimeout = 15 * time.Second
)

// probe is one discovery strategy. The orchestrator consumes an ordered
// list of these, so adding or reordering sources is a data change.
type probe struct {
	source     Source
	confidence Confidence
	run        func(ctx context.Context, domain, address string) (*Config, error)
}

// Discoverer infers working SMTP/IMAP settings for an email address
// through a cascade of strategies of decreasing certainty.
type Discoverer struct {
	registry   *Registry
	httpClient *http.Client
	resolver   Resolver
	logger     *logrus.Logger

	// ProbeTimeout and Timeout override the per-probe and aggregate
	// deadlines when non-zero.
	ProbeTimeout time.Duration
	Timeout      time.Duration

	// Test seams for the URL conventions.
	autoconfigURLs  func(domain, address string) []string
	autodiscoverURL func(domain string) string
	ispdbBase       string
}

// New creates a Discoverer with the default registry, a timeout-bounded
// HTTP client and the system resolver.
func New(logger *logrus.Logger) *Discoverer {
	return &Discoverer{
		registry:   NewRegistry(),
		httpClient: &http.Client{Timeout: defaultProbeTimeout},
		resolver:   net.DefaultResolver,
		logger:     logger,
	}
}

// Registry exposes the known-provider table, mainly for callers that
// want to display the vetted provider list.
func (d *Discoverer) Registry() *Registry {
	return d.registry
}

// Discover runs the cascade for an email address. It never returns an
// error: total exhaustion is a normal outcome represented as data.
func (d *Discoverer) Discover(ctx context.Context, address string) Result {
	domain, err := domainOf(address)
	if err != nil {
		return Result{
			Source:     SourceMXHeuristic,
			Confidence: ConfidenceLow,
			Err:        err.Error(),
		}
	}

	// Registry hits are pre-vetted and authoritative; no network.
	if cfg, ok := d.registry.Lookup(domain); ok {
		return Result{
			Success:    true,
			Config:     cfg,
			Source:     SourceKnownProvider,
			Confidence: ConfidenceHigh,
		}
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probes := []probe{
		{SourceAutoconfig, ConfidenceHigh, d.probeAutoconfig},
		{SourceAutodiscover, ConfidenceHigh, d.probeAutodiscover},
		{SourceISPDB, ConfidenceMedium, d.probeISPDB},
		{SourceDNSSRV, ConfidenceMedium, d.probeDNSSRV},
		{SourceMXHeuristic, ConfidenceLow, d.probeMXHeuristic},
	}

	var warnings []string
	for _, p := range probes {
		cfg, err := d.runProbe(ctx, p, domain, address)
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"source": p.source,
				"domain": domain,
			}).WithError(err).Debug("Discovery probe failed")
			warnings = append(warnings, fmt.Sprintf("%s: %v", p.source, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res := Result{
			Success:    true,
			Config:     cfg,
			Source:     p.source,
			Confidence: p.confidence,
		}
		if p.confidence == ConfidenceLow {
			res.Warnings = []string{"configuration is a guess; run a live connection test before saving"}
		}
		return res
	}

	return Result{
		Source:     SourceMXHeuristic,
		Confidence: ConfidenceLow,
		Warnings:   warnings,
		Err:        fmt.Sprintf("no configuration found for %s", domain),
	}
}

// runProbe runs one strategy under its own deadline so a stuck probe
// cannot stall the cascade.
func (d *Discoverer) runProbe(ctx context.Context, p probe, domain, address string) (*Config, error) {
	timeout := d.ProbeTimeout
	if timeout == 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, err := p.run(probeCtx, domain, address)
	if err != nil {
		return nil, err
	}
	if cfg.SMTP.Host == "" || cfg.SMTP.Port == 0 || cfg.IMAP.Host == "" || cfg.IMAP.Port == 0 {
		// Partial configs are never returned successfully.
		return nil, fmt.Errorf("probe produced an incomplete configuration")
	}
	return cfg, nil
}

// domainOf extracts the lookup domain from an email address, which must
// contain exactly one @.
func domainOf(address string) (string, error) {
	local, domain, found := strings.Cut(address, "@")
	if !found || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "", fmt.Errorf("invalid email address %q", address)
	}
	return strings.ToLower(domain), nil
}
