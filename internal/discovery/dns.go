package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Resolver is the DNS surface the probes need. *net.Resolver satisfies
// it; tests substitute a fake.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupSRV(ctx context.Context, service, proto, domain string) (string, []*net.SRV, error)
}

// probeDNSSRV synthesizes a configuration from RFC 6186 service records.
// Both the submission and IMAPS records must resolve; one leg alone is
// not a usable configuration.
func (d *Discoverer) probeDNSSRV(ctx context.Context, domain, _ string) (*Config, error) {
	_, smtpRecs, err := d.resolver.LookupSRV(ctx, "submission", "tcp", domain)
	if err != nil || len(smtpRecs) == 0 {
		return nil, fmt.Errorf("no _submission._tcp SRV record for %s", domain)
	}

	_, imapRecs, err := d.resolver.LookupSRV(ctx, "imaps", "tcp", domain)
	if err != nil || len(imapRecs) == 0 {
		return nil, fmt.Errorf("no _imaps._tcp SRV record for %s", domain)
	}

	smtpTarget := strings.TrimSuffix(smtpRecs[0].Target, ".")
	imapTarget := strings.TrimSuffix(imapRecs[0].Target, ".")
	if smtpTarget == "" || imapTarget == "" {
		return nil, fmt.Errorf("SRV records for %s have empty targets", domain)
	}

	return &Config{
		SMTP: SMTPSettings{
			Host:   smtpTarget,
			Port:   int(smtpRecs[0].Port),
			Secure: smtpRecs[0].Port == 465,
			Auth:   "plain",
		},
		IMAP: IMAPSettings{
			Host: imapTarget,
			Port: int(imapRecs[0].Port),
			TLS:  true,
		},
	}, nil
}

// probeMXHeuristic guesses smtp./imap. hostnames from the domain's mail
// exchanger. This is the lowest-confidence source: the result is a guess
// and callers must live-test it before trusting it.
func (d *Discoverer) probeMXHeuristic(ctx context.Context, domain, _ string) (*Config, error) {
	records, err := d.resolver.LookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("no MX record for %s", domain)
	}

	mxHost := strings.TrimSuffix(records[0].Host, ".")
	suffix := mailDomainFromMX(mxHost)
	if suffix == "" {
		return nil, fmt.Errorf("cannot derive a mail domain from MX host %s", mxHost)
	}

	return &Config{
		SMTP: SMTPSettings{Host: "smtp." + suffix, Port: 587, Secure: false, Auth: "plain"},
		IMAP: IMAPSettings{Host: "imap." + suffix, Port: 993, TLS: true},
		Notes: fmt.Sprintf("Guessed from the MX record %s; verify with a live connection before saving.", mxHost),
	}, nil
}

// mailDomainFromMX strips the top two subdomain labels from a mail
// exchanger hostname, e.g. mx01.mail.example.com -> example.com. Hosts
// too short to strip are returned as-is.
func mailDomainFromMX(mxHost string) string {
	labels := strings.Split(mxHost, ".")
	if len(labels) < 2 {
		return ""
	}
	if len(labels) <= 3 {
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return strings.Join(labels[2:], ".")
}
