package policy

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Demote drops unproductiveURL from the queue and stable-partitions the
// remainder so every link sharing its registrable domain (eTLD+1, not full
// hostname) moves to the tail. Relative order within each partition is
// preserved. Demotion reorders rather than removes: the domain's other
// candidates are still visited, just last.
func Demote(queue []string, unproductiveURL string) []string {
	domain := RegistrableDomain(unproductiveURL)

	head := make([]string, 0, len(queue))
	var tail []string
	for _, link := range queue {
		if link == unproductiveURL {
			continue
		}
		if domain != "" && RegistrableDomain(link) == domain {
			tail = append(tail, link)
			continue
		}
		head = append(head, link)
	}
	return append(head, tail...)
}

// RegistrableDomain returns the eTLD+1 of a URL's hostname, stripping
// subdomains ("www.good.example" and "cdn.good.example" both yield
// "good.example"). Returns "" when the host has no registrable domain.
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Hosts like "localhost" or bare IPs have no eTLD+1; fall back to
		// the hostname itself so same-host links still group together.
		return host
	}
	return domain
}
