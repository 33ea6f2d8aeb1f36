package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// clientConfig is the Thunderbird-style autoconfiguration document
// served by providers and by the ISPDB.
type clientConfig struct {
	XMLName       xml.Name        `xml:"clientConfig"`
	EmailProvider []emailProvider `xml:"emailProvider"`
}

type emailProvider struct {
	ID              string         `xml:"id,attr"`
	DisplayName     string         `xml:"displayName"`
	Documentation   []docLink      `xml:"documentation"`
	IncomingServers []configServer `xml:"incomingServer"`
	OutgoingServers []configServer `xml:"outgoingServer"`
}

type docLink struct {
	URL string `xml:"url,attr"`
}

type configServer struct {
	Type           string   `xml:"type,attr"`
	Hostname       string   `xml:"hostname"`
	Port           int      `xml:"port"`
	SocketType     string   `xml:"socketType"`
	Authentication []string `xml:"authentication"`
}

const maxConfigDocSize = 1 << 20 // 1 MiB, autoconfig documents are tiny

// fetchClientConfig fetches and parses one autoconfiguration document.
func fetchClientConfig(ctx context.Context, client *http.Client, rawURL string) (*clientConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building autoconfig request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigDocSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	doc := &clientConfig{}
	if err := xml.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	return doc, nil
}

// configFromDocument converts a parsed document into a Config, picking
// the first SMTP/IMAP server pair. Documents without both server types
// are rejected so partial configurations never escape.
func configFromDocument(doc *clientConfig) (*Config, error) {
	if len(doc.EmailProvider) == 0 {
		return nil, fmt.Errorf("autoconfig document has no emailProvider block")
	}
	provider := doc.EmailProvider[0]

	var imap *configServer
	for i := range provider.IncomingServers {
		if strings.EqualFold(provider.IncomingServers[i].Type, "imap") {
			imap = &provider.IncomingServers[i]
			break
		}
	}

	var smtp *configServer
	for i := range provider.OutgoingServers {
		if strings.EqualFold(provider.OutgoingServers[i].Type, "smtp") {
			smtp = &provider.OutgoingServers[i]
			break
		}
	}

	if imap == nil || smtp == nil {
		return nil, fmt.Errorf("autoconfig document is missing an IMAP or SMTP server")
	}
	if imap.Hostname == "" || imap.Port == 0 || smtp.Hostname == "" || smtp.Port == 0 {
		return nil, fmt.Errorf("autoconfig document has incomplete server settings")
	}

	cfg := &Config{
		SMTP: SMTPSettings{
			Host:   smtp.Hostname,
			Port:   smtp.Port,
			Secure: strings.EqualFold(smtp.SocketType, "SSL"),
			Auth:   authMethodFromDocument(smtp.Authentication),
		},
		IMAP: IMAPSettings{
			Host: imap.Hostname,
			Port: imap.Port,
			TLS:  !strings.EqualFold(imap.SocketType, "plain"),
		},
		Provider: provider.DisplayName,
	}
	if len(provider.Documentation) > 0 {
		cfg.DocumentationURL = provider.Documentation[0].URL
	}
	if cfg.SMTP.Auth == "oauth2" {
		cfg.RequiresOAuth = true
	}
	return cfg, nil
}

// authMethodFromDocument maps the document's authentication vocabulary
// onto ours, preferring the first recognized entry.
func authMethodFromDocument(methods []string) string {
	for _, m := range methods {
		switch strings.ToLower(strings.TrimSpace(m)) {
		case "oauth2":
			return "oauth2"
		case "password-cleartext", "plain":
			return "plain"
		case "password-encrypted", "secure", "cram-md5":
			return "cram-md5"
		case "login":
			return "login"
		}
	}
	return "plain"
}

// autoconfigURLs returns the provider-convention URLs probed for a
// Mozilla-style autoconfig document, in order.
func autoconfigURLs(domain, address string) []string {
	escaped := url.QueryEscape(address)
	return []string{
		fmt.Sprintf("https://autoconfig.%s/mail/config-v1.1.xml?emailaddress=%s", domain, escaped),
		fmt.Sprintf("https://%s/.well-known/autoconfig/mail/config-v1.1.xml", domain),
	}
}

// probeAutoconfig tries each autoconfig URL in turn and converts the
// first document that parses with both server types.
func (d *Discoverer) probeAutoconfig(ctx context.Context, domain, address string) (*Config, error) {
	urls := d.autoconfigURLs
	if urls == nil {
		urls = autoconfigURLs
	}

	var lastErr error
	for _, u := range urls(domain, address) {
		doc, err := fetchClientConfig(ctx, d.httpClient, u)
		if err != nil {
			lastErr = err
			continue
		}
		cfg, err := configFromDocument(doc)
		if err != nil {
			lastErr = err
			continue
		}
		return cfg, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no autoconfig URL for %s", domain)
	}
	return nil, lastErr
}

// probeISPDB asks the community configuration database for the domain.
// Same document shape as autoconfig, different trust level.
func (d *Discoverer) probeISPDB(ctx context.Context, domain, _ string) (*Config, error) {
	base := d.ispdbBase
	if base == "" {
		base = "https://autoconfig.thunderbird.net/v1.1/"
	}

	doc, err := fetchClientConfig(ctx, d.httpClient, base+url.PathEscape(domain))
	if err != nil {
		return nil, err
	}
	return configFromDocument(doc)
}
