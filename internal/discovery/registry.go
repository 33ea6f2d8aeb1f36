package discovery

import "strings"

// Registry is a static table of pre-vetted provider configurations. A
// registry hit is authoritative and short-circuits every network probe.
type Registry struct {
	providers map[string]*Config
	aliases   map[string]string
}

// NewRegistry builds the default known-provider table.
func NewRegistry() *Registry {
	r := &Registry{
		providers: make(map[string]*Config),
		aliases:   make(map[string]string),
	}

	r.add("gmail.com", []string{"googlemail.com"}, &Config{
		SMTP:                SMTPSettings{Host: "smtp.gmail.com", Port: 587, Secure: false, Auth: "oauth2"},
		IMAP:                IMAPSettings{Host: "imap.gmail.com", Port: 993, TLS: true},
		Provider:            "Gmail",
		DocumentationURL:    "https://support.google.com/mail/answer/7126229",
		RequiresAppPassword: true,
		RequiresOAuth:       true,
		Notes:               "Accounts with 2FA need an app password unless OAuth is used.",
	})

	r.add("outlook.com", []string{"hotmail.com", "live.com", "msn.com"}, &Config{
		SMTP:             SMTPSettings{Host: "smtp.office365.com", Port: 587, Secure: false, Auth: "login"},
		IMAP:             IMAPSettings{Host: "imap-mail.outlook.com", Port: 993, TLS: true},
		Provider:         "Outlook.com",
		DocumentationURL: "https://support.microsoft.com/office/pop-imap-and-smtp-settings-8361e398-8af4-4e97-b147-6c6c4ac95353",
		RequiresOAuth:    true,
	})

	r.add("office365.com", nil, &Config{
		SMTP:          SMTPSettings{Host: "smtp.office365.com", Port: 587, Secure: false, Auth: "login"},
		IMAP:          IMAPSettings{Host: "outlook.office365.com", Port: 993, TLS: true},
		Provider:      "Microsoft 365",
		RequiresOAuth: true,
	})

	r.add("yahoo.com", []string{"yahoo.co.uk", "ymail.com", "rocketmail.com"}, &Config{
		SMTP:                SMTPSettings{Host: "smtp.mail.yahoo.com", Port: 465, Secure: true, Auth: "plain"},
		IMAP:                IMAPSettings{Host: "imap.mail.yahoo.com", Port: 993, TLS: true},
		Provider:            "Yahoo Mail",
		DocumentationURL:    "https://help.yahoo.com/kb/SLN4724.html",
		RequiresAppPassword: true,
	})

	r.add("icloud.com", []string{"me.com", "mac.com"}, &Config{
		SMTP:                SMTPSettings{Host: "smtp.mail.me.com", Port: 587, Secure: false, Auth: "plain"},
		IMAP:                IMAPSettings{Host: "imap.mail.me.com", Port: 993, TLS: true},
		Provider:            "iCloud Mail",
		DocumentationURL:    "https://support.apple.com/102525",
		RequiresAppPassword: true,
	})

	r.add("aol.com", nil, &Config{
		SMTP:                SMTPSettings{Host: "smtp.aol.com", Port: 465, Secure: true, Auth: "plain"},
		IMAP:                IMAPSettings{Host: "imap.aol.com", Port: 993, TLS: true},
		Provider:            "AOL Mail",
		RequiresAppPassword: true,
	})

	r.add("zoho.com", []string{"zohomail.com"}, &Config{
		SMTP:     SMTPSettings{Host: "smtp.zoho.com", Port: 465, Secure: true, Auth: "plain"},
		IMAP:     IMAPSettings{Host: "imap.zoho.com", Port: 993, TLS: true},
		Provider: "Zoho Mail",
	})

	r.add("fastmail.com", []string{"fastmail.fm"}, &Config{
		SMTP:                SMTPSettings{Host: "smtp.fastmail.com", Port: 465, Secure: true, Auth: "plain"},
		IMAP:                IMAPSettings{Host: "imap.fastmail.com", Port: 993, TLS: true},
		Provider:            "Fastmail",
		RequiresAppPassword: true,
	})

	r.add("gmx.com", []string{"gmx.net", "gmx.de"}, &Config{
		SMTP:     SMTPSettings{Host: "mail.gmx.com", Port: 587, Secure: false, Auth: "plain"},
		IMAP:     IMAPSettings{Host: "imap.gmx.com", Port: 993, TLS: true},
		Provider: "GMX",
	})

	r.add("web.de", nil, &Config{
		SMTP:     SMTPSettings{Host: "smtp.web.de", Port: 587, Secure: false, Auth: "plain"},
		IMAP:     IMAPSettings{Host: "imap.web.de", Port: 993, TLS: true},
		Provider: "WEB.DE",
	})

	r.add("yandex.com", []string{"yandex.ru", "ya.ru"}, &Config{
		SMTP:     SMTPSettings{Host: "smtp.yandex.com", Port: 465, Secure: true, Auth: "plain"},
		IMAP:     IMAPSettings{Host: "imap.yandex.com", Port: 993, TLS: true},
		Provider: "Yandex Mail",
	})

	r.add("mail.ru", []string{"bk.ru", "list.ru", "inbox.ru"}, &Config{
		SMTP:     SMTPSettings{Host: "smtp.mail.ru", Port: 465, Secure: true, Auth: "plain"},
		IMAP:     IMAPSettings{Host: "imap.mail.ru", Port: 993, TLS: true},
		Provider: "Mail.ru",
	})

	r.add("proton.me", []string{"protonmail.com", "pm.me"}, &Config{
		SMTP:             SMTPSettings{Host: "127.0.0.1", Port: 1025, Secure: false, Auth: "plain"},
		IMAP:             IMAPSettings{Host: "127.0.0.1", Port: 1143, TLS: false},
		Provider:         "Proton Mail",
		DocumentationURL: "https://proton.me/mail/bridge",
		Notes:            "Requires the Proton Mail Bridge running locally.",
	})

	return r
}

func (r *Registry) add(domain string, aliases []string, cfg *Config) {
	r.providers[domain] = cfg
	for _, alias := range aliases {
		r.aliases[alias] = domain
	}
}

// Lookup returns the pre-vetted configuration for a domain, matching the
// canonical domain first and aliases second. Callers get a copy; the
// table itself is never handed out.
func (r *Registry) Lookup(domain string) (*Config, bool) {
	domain = strings.ToLower(domain)
	cfg, ok := r.providers[domain]
	if !ok {
		canonical, aliased := r.aliases[domain]
		if !aliased {
			return nil, false
		}
		cfg = r.providers[canonical]
	}
	out := *cfg
	return &out, true
}

// Domains returns every canonical domain in the registry.
func (r *Registry) Domains() []string {
	domains := make([]string, 0, len(r.providers))
	for d := range r.providers {
		domains = append(domains, d)
	}
	return domains
}
