package rules

import (
	"net/mail"
	"strings"
)

// NormalizeEmailAddress extracts a lowercase address from raw header input
// such as `"Jane" <Jane@Example.com>`. It reports false for anything that is
// not a plausible address.
func NormalizeEmailAddress(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		s = addr.Address
	} else if open := strings.LastIndex(s, "<"); open >= 0 {
		rest := s[open+1:]
		if end := strings.Index(rest, ">"); end >= 0 {
			rest = rest[:end]
		}
		s = rest
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.ContainsAny(s, " \t\r\n") {
		return "", false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", false
	}
	return s, true
}

// NormalizeDomain lowercases a domain and strips leading "@" or ".".
func NormalizeDomain(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimLeft(s, "@.")
	s = strings.TrimRight(s, ".")
	if s == "" || strings.ContainsAny(s, " \t\r\n@") {
		return "", false
	}
	if !strings.Contains(s, ".") {
		return "", false
	}
	return s, true
}

// NormalizeOrgEmail normalizes raw and requires it to belong to orgDomain.
func NormalizeOrgEmail(raw, orgDomain string) (string, bool) {
	email, ok := NormalizeEmailAddress(raw)
	if !ok {
		return "", false
	}
	org, ok := NormalizeDomain(orgDomain)
	if !ok {
		return "", false
	}
	if !strings.HasSuffix(email, "@"+org) {
		return "", false
	}
	return email, true
}

// DomainOf returns the domain part of a normalized address.
func DomainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return email[at+1:]
}

// domainCovers reports whether sender domain d falls under rule domain rule:
// an exact match or a subdomain of it.
func domainCovers(rule, d string) bool {
	return d == rule || strings.HasSuffix(d, "."+rule)
}
