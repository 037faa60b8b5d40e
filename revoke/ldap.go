package revoke

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	cferr "github.com/cloudflare/cfsmime/errors"
)

// LDAPScope is the search scope of an LDAP URL (RFC 4516).
type LDAPScope int

// Search scopes.
const (
	ScopeBase LDAPScope = iota
	ScopeOneLevel
	ScopeSubtree
)

func (s LDAPScope) String() string {
	switch s {
	case ScopeOneLevel:
		return "one"
	case ScopeSubtree:
		return "sub"
	}
	return "base"
}

// LDAPURL is a parsed ldap:// or ldaps:// URL.
type LDAPURL struct {
	Scheme            string
	Host              string
	Port              int
	DistinguishedName string
	Attributes        []string
	Scope             LDAPScope
	Filter            string
	Extensions        []string
}

func ldapParseError(raw, field string, err error) error {
	return cferr.Wrap(cferr.CRLError, cferr.ParseFailed, fmt.Errorf("ldap url %q: bad %s: %v", raw, field, err))
}

// ParseLDAPURL parses an LDAP URL of the form
// ldap://host:port/dn?attributes?scope?filter?extensions.
func ParseLDAPURL(raw string) (*LDAPURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ldapParseError(raw, "syntax", err)
	}
	out := &LDAPURL{Scheme: strings.ToLower(u.Scheme), Filter: "(objectClass=*)"}
	switch out.Scheme {
	case "ldap":
		out.Port = 389
	case "ldaps":
		out.Port = 636
	default:
		return nil, ldapParseError(raw, "scheme", fmt.Errorf("%q is not ldap", u.Scheme))
	}

	out.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, ldapParseError(raw, "port", fmt.Errorf("%q is out of range", p))
		}
		out.Port = port
	}
	out.DistinguishedName = strings.TrimPrefix(u.Path, "/")

	if !u.ForceQuery && u.RawQuery == "" {
		return out, nil
	}
	parts := strings.Split(u.RawQuery, "?")
	if len(parts) > 4 {
		return nil, ldapParseError(raw, "query", fmt.Errorf("%d components", len(parts)))
	}
	for i := range parts {
		if parts[i], err = url.PathUnescape(parts[i]); err != nil {
			return nil, ldapParseError(raw, "escape", err)
		}
	}

	if parts[0] != "" {
		out.Attributes = strings.Split(parts[0], ",")
	}
	if len(parts) > 1 {
		switch strings.ToLower(parts[1]) {
		case "", "base":
			out.Scope = ScopeBase
		case "one":
			out.Scope = ScopeOneLevel
		case "sub":
			out.Scope = ScopeSubtree
		default:
			return nil, ldapParseError(raw, "scope", fmt.Errorf("unknown scope %q", parts[1]))
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		f := parts[2]
		if !strings.HasPrefix(f, "(") || !strings.HasSuffix(f, ")") {
			return nil, ldapParseError(raw, "filter", fmt.Errorf("%q is not parenthesized", f))
		}
		out.Filter = f
	}
	if len(parts) > 3 && parts[3] != "" {
		out.Extensions = strings.Split(parts[3], ",")
	}
	return out, nil
}
