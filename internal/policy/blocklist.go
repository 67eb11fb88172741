// Package policy decides which candidate links are excluded outright and
// which get deprioritized after an unproductive fetch.
package policy

import (
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Blocklist holds the exclusion rules applied before any fetch. Domains
// match the hostname (exact or any subdomain); extensions match the URL
// path suffix. Both lists are matched case-insensitively.
type Blocklist struct {
	Domains    []string `yaml:"domains"`
	Extensions []string `yaml:"extensions"`
}

// NewBlocklist builds a Blocklist from configured domain and extension
// patterns, normalizing case up front.
func NewBlocklist(domains, extensions []string) *Blocklist {
	b := &Blocklist{
		Domains:    make([]string, 0, len(domains)),
		Extensions: make([]string, 0, len(extensions)),
	}
	for _, d := range domains {
		b.Domains = append(b.Domains, strings.ToLower(strings.TrimSpace(d)))
	}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		b.Extensions = append(b.Extensions, e)
	}
	return b
}

// LoadBlocklistFile reads a YAML blocklist file. The file overrides the
// inline config lists entirely when present.
func LoadBlocklistFile(filePath string) (*Blocklist, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read blocklist %s", filePath)
	}
	var raw Blocklist
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "policy: parse blocklist %s", filePath)
	}
	return NewBlocklist(raw.Domains, raw.Extensions), nil
}

// IsBlocked reports whether rawURL must be excluded from the work queue,
// with a human-readable reason for the log line. Unparseable URLs are
// blocked.
func (b *Blocklist) IsBlocked(rawURL string) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, "unparseable url"
	}

	host := strings.ToLower(u.Hostname())
	for _, d := range b.Domains {
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true, "blocked domain " + d
		}
	}

	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range b.Extensions {
		if e != "" && ext == e {
			return true, "blocked extension " + e
		}
	}

	return false, ""
}

// Filter returns the links that pass the blocklist, preserving order, and
// the number removed.
func (b *Blocklist) Filter(links []string) ([]string, int) {
	kept := make([]string, 0, len(links))
	blocked := 0
	for _, l := range links {
		if ok, _ := b.IsBlocked(l); ok {
			blocked++
			continue
		}
		kept = append(kept, l)
	}
	return kept, blocked
}
