package pkix_test

import (
	"net"
	"strings"
	"testing"

	"github.com/openebl/localca/pkg/pkix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSubject(t *testing.T) {
	subject, err := pkix.BuildSubject(pkix.Subject{
		Country:      " us ",
		State:        "California",
		Organization: "Cafe\u0301 Corp",
		CommonName:   "  Local Root CA\t",
	})
	require.NoError(t, err)
	assert.Equal(t, "US", subject.Country)
	assert.Equal(t, "Caf\u00e9 Corp", subject.Organization)
	assert.Equal(t, "Local Root CA", subject.CommonName)

	name := subject.Name()
	assert.Equal(t, []string{"US"}, name.Country)
	assert.Equal(t, []string{"California"}, name.Province)
	assert.Empty(t, name.Locality)
	assert.Equal(t, subject, pkix.SubjectFromName(name))

	_, err = pkix.BuildSubject(pkix.Subject{Country: "US"})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)
	assert.Contains(t, err.Error(), "common_name")

	_, err = pkix.BuildSubject(pkix.Subject{CommonName: "   "})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)

	_, err = pkix.BuildSubject(pkix.Subject{CommonName: "ok", Country: "USA"})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)
	assert.Contains(t, err.Error(), "country")

	_, err = pkix.BuildSubject(pkix.Subject{CommonName: "bad\x00name"})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)

	_, err = pkix.BuildSubject(pkix.Subject{CommonName: "bad \xff utf8"})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)

	_, err = pkix.BuildSubject(pkix.Subject{CommonName: strings.Repeat("a", 65)})
	assert.ErrorIs(t, err, pkix.ErrInvalidSubject)
}

func TestParseSANEntry(t *testing.T) {
	entry, err := pkix.ParseSANEntry("DNS:mynginx.com")
	require.NoError(t, err)
	assert.Equal(t, pkix.DNSName("mynginx.com"), entry)

	entry, err = pkix.ParseSANEntry("IP:68.183.142.158")
	require.NoError(t, err)
	assert.Equal(t, pkix.SANTypeIP, entry.Type)
	assert.True(t, entry.IPAddress.Equal(net.ParseIP("68.183.142.158")))

	entry, err = pkix.ParseSANEntry("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, pkix.SANTypeIP, entry.Type)

	entry, err = pkix.ParseSANEntry("www.example.com")
	require.NoError(t, err)
	assert.Equal(t, pkix.DNSName("www.example.com"), entry)

	_, err = pkix.ParseSANEntry("IP:300.1.1.1")
	assert.ErrorIs(t, err, pkix.ErrInvalidSAN)

	_, err = pkix.ParseSANEntry("URI:https://example.com")
	assert.ErrorIs(t, err, pkix.ErrInvalidSAN)
}

func TestBuildSANList(t *testing.T) {
	sans, err := pkix.ParseSANList([]string{
		"DNS:MyNginx.com",
		"DNS:*.mynginx.com",
		"IP:68.183.142.158",
		"DNS:mynginx.com",
		"IP:::ffff:68.183.142.158",
		"DNS:bücher.example",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DNS:mynginx.com",
		"DNS:*.mynginx.com",
		"IP:68.183.142.158",
		"DNS:xn--bcher-kva.example",
	}, sanStrings(sans))
	assert.Len(t, sans[2].IPAddress, net.IPv4len)

	invalid := []pkix.SANEntry{
		pkix.DNSName(""),
		pkix.DNSName("-bad.example.com"),
		pkix.DNSName("under_score.example.com"),
		pkix.DNSName("a..b"),
		pkix.DNSName("*.*.example.com"),
		pkix.DNSName("www.*.example.com"),
		pkix.DNSName("*"),
		pkix.DNSName("10.0.0.1"),
		pkix.DNSName(strings.Repeat("a", 64) + ".example.com"),
		pkix.DNSName(strings.Repeat(strings.Repeat("a", 60)+".", 5) + "com"),
		pkix.IPAddress(net.IP{1, 2, 3}),
		{Type: "URI"},
	}
	for _, entry := range invalid {
		_, err := pkix.BuildSANList([]pkix.SANEntry{pkix.DNSName("ok.example.com"), entry})
		assert.ErrorIs(t, err, pkix.ErrInvalidSAN, "entry %v", entry)
	}

	sans, err = pkix.BuildSANList(nil)
	require.NoError(t, err)
	assert.Empty(t, sans)
}

func TestMatchHostname(t *testing.T) {
	sans, err := pkix.ParseSANList([]string{"DNS:mynginx.com", "DNS:*.mynginx.com", "IP:68.183.142.158"})
	require.NoError(t, err)

	assert.True(t, pkix.MatchHostname(sans, "mynginx.com"))
	assert.True(t, pkix.MatchHostname(sans, "test.mynginx.com"))
	assert.True(t, pkix.MatchHostname(sans, "TEST.MyNginx.com."))
	assert.True(t, pkix.MatchHostname(sans, "68.183.142.158"))

	assert.False(t, pkix.MatchHostname(sans, "evil.com"))
	assert.False(t, pkix.MatchHostname(sans, "sub.test.mynginx.com"))
	assert.False(t, pkix.MatchHostname(sans, "68.183.142.159"))
	assert.False(t, pkix.MatchHostname(sans, ""))

	// IP hostnames never match DNS entries.
	dnsOnly := []pkix.SANEntry{pkix.DNSName("68.183.142.158.nip.io")}
	assert.False(t, pkix.MatchHostname(dnsOnly, "68.183.142.158"))
}

func sanStrings(sans []pkix.SANEntry) []string {
	result := make([]string, 0, len(sans))
	for _, san := range sans {
		result = append(result, san.String())
	}
	return result
}
