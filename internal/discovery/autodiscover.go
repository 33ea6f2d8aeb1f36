package discovery

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// autodiscoverResponse is the Exchange-style POX autodiscover document.
// Only the protocol blocks are of interest here.
type autodiscoverResponse struct {
	XMLName  xml.Name `xml:"Autodiscover"`
	Response struct {
		Account struct {
			Protocols []autodiscoverProtocol `xml:"Protocol"`
		} `xml:"Account"`
	} `xml:"Response"`
}

type autodiscoverProtocol struct {
	Type       string `xml:"Type"`
	Server     string `xml:"Server"`
	Port       int    `xml:"Port"`
	SSL        string `xml:"SSL"`
	Encryption string `xml:"Encryption"`
}

const autodiscoverRequestBody = `<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/outlook/requestschema/2006">
  <Request>
    <EMailAddress>%s</EMailAddress>
    <AcceptableResponseSchema>http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a</AcceptableResponseSchema>
  </Request>
</Autodiscover>
`

// autodiscoverURL returns the provider-convention POX endpoint.
func autodiscoverURL(domain string) string {
	return fmt.Sprintf("https://autodiscover.%s/autodiscover/autodiscover.xml", domain)
}

// probeAutodiscover posts an autodiscover request to the domain's
// conventional endpoint and assembles a config from the IMAP and SMTP
// protocol blocks. Both must be present.
func (d *Discoverer) probeAutodiscover(ctx context.Context, domain, address string) (*Config, error) {
	endpoint := autodiscoverURL(domain)
	if d.autodiscoverURL != nil {
		endpoint = d.autodiscoverURL(domain)
	}

	payload := fmt.Sprintf(autodiscoverRequestBody, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, fmt.Errorf("building autodiscover request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigDocSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", endpoint, err)
	}

	doc := &autodiscoverResponse{}
	if err := xml.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", endpoint, err)
	}

	var imap, smtp *autodiscoverProtocol
	for i := range doc.Response.Account.Protocols {
		p := &doc.Response.Account.Protocols[i]
		switch strings.ToUpper(p.Type) {
		case "IMAP":
			if imap == nil {
				imap = p
			}
		case "SMTP":
			if smtp == nil {
				smtp = p
			}
		}
	}

	if imap == nil || smtp == nil {
		return nil, fmt.Errorf("autodiscover response is missing an IMAP or SMTP protocol block")
	}
	if imap.Server == "" || imap.Port == 0 || smtp.Server == "" || smtp.Port == 0 {
		return nil, fmt.Errorf("autodiscover response has incomplete server settings")
	}

	return &Config{
		SMTP: SMTPSettings{
			Host: smtp.Server,
			Port: smtp.Port,
			// Implicit TLS only on the submissions port; "SSL: on"
			// with port 587 means STARTTLS in autodiscover responses.
			Secure: smtp.Port == 465 || strings.EqualFold(smtp.Encryption, "SSL"),
			Auth:   "plain",
		},
		IMAP: IMAPSettings{
			Host: imap.Server,
			Port: imap.Port,
			TLS:  protocolUsesSSL(imap) || imap.Port == 993,
		},
	}, nil
}

func protocolUsesSSL(p *autodiscoverProtocol) bool {
	if strings.EqualFold(p.Encryption, "SSL") {
		return true
	}
	return strings.EqualFold(p.SSL, "on") && p.Encryption == ""
}
