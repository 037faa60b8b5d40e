package revoke

import (
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLDAPURL(t *testing.T) {
	u, err := ParseLDAPURL("ldap://host.com:6666/o=X,c=US??sub?(cn=Y)")
	require.NoError(t, err)
	assert.Equal(t, "host.com", u.Host)
	assert.Equal(t, 6666, u.Port)
	assert.Equal(t, ScopeSubtree, u.Scope)
	assert.Equal(t, "(cn=Y)", u.Filter)
	assert.Equal(t, "o=X,c=US", u.DistinguishedName)
	assert.Empty(t, u.Attributes)
}

func TestParseLDAPURLDefaults(t *testing.T) {
	var tests = []struct {
		raw    string
		port   int
		dn     string
		attrs  []string
		scope  LDAPScope
		filter string
	}{
		{"ldap://ldap.example.com", 389, "", nil, ScopeBase, "(objectClass=*)"},
		{"ldaps://ldap.example.com/cn=CA", 636, "cn=CA", nil, ScopeBase, "(objectClass=*)"},
		{"LDAP://ldap.example.com/cn=CA?certificateRevocationList;binary", 389, "cn=CA",
			[]string{"certificateRevocationList;binary"}, ScopeBase, "(objectClass=*)"},
		{"ldap://ldap.example.com/o=University%20of%20Michigan,c=US?postalAddress,mail?one",
			389, "o=University of Michigan,c=US", []string{"postalAddress", "mail"}, ScopeOneLevel, "(objectClass=*)"},
		{"ldap://ldap.example.com/c=GB?objectClass?base?(cn=a%20b)", 389, "c=GB", []string{"objectClass"}, ScopeBase, "(cn=a b)"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := ParseLDAPURL(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.port, u.Port)
			assert.Equal(t, tc.dn, u.DistinguishedName)
			assert.Equal(t, tc.attrs, u.Attributes)
			assert.Equal(t, tc.scope, u.Scope)
			assert.Equal(t, tc.filter, u.Filter)
		})
	}
}

func TestParseLDAPURLErrors(t *testing.T) {
	for _, raw := range []string{
		"http://host.com/o=X",
		"ldap://host.com:0/o=X",
		"ldap://host.com:70000/o=X",
		"ldap://host.com/o=X??deep",
		"ldap://host.com/o=X??sub?cn=Y",
		"ldap://host.com/o=X?a?sub?(cn=Y)?e?extra",
		"ldap://host.com/o=X??sub?(cn=%zz)",
	} {
		_, err := ParseLDAPURL(raw)
		require.Error(t, err, raw)
		require.True(t, cferr.IsParse(err), raw)
	}
}
