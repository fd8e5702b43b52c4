package cli

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
	"github.com/stretchr/testify/suite"
)

type CobraAppTestSuite struct {
	suite.Suite

	dir string
	now time.Time
}

func TestCobraAppTestSuite(t *testing.T) {
	suite.Run(t, new(CobraAppTestSuite))
}

func (s *CobraAppTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *CobraAppTestSuite) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *CobraAppTestSuite) execute(args ...string) (string, error) {
	app := NewCobraApp()
	app.now = func() time.Time { return s.now }
	out := bytes.Buffer{}
	app.rootCmd.SetOut(&out)
	app.rootCmd.SetArgs(args)
	err := app.rootCmd.Execute()
	return out.String(), err
}

func (s *CobraAppTestSuite) assertMode(name string, mode os.FileMode) {
	info, err := os.Stat(s.path(name))
	s.Require().NoError(err)
	s.Equal(mode, info.Mode().Perm())
}

// walkthrough runs the whole offline flow: root key, root, server key, CSR and signing.
func (s *CobraAppTestSuite) walkthrough() {
	_, err := s.execute("key", "-t", "RSA", "-b", "2048", "-o", s.path("root.key"))
	s.Require().NoError(err)
	_, err = s.execute("root", "-k", s.path("root.key"), "--common-name", "Local Dev Root CA", "--org", "Local Dev", "--country", "us", "-o", s.path("root.crt"))
	s.Require().NoError(err)
	_, err = s.execute("key", "-o", s.path("server.key"))
	s.Require().NoError(err)
	_, err = s.execute("csr", "-k", s.path("server.key"), "--common-name", "mynginx.com",
		"--san", "DNS:mynginx.com", "--san", "IP:68.183.142.158", "-o", s.path("server.csr"))
	s.Require().NoError(err)
	_, err = s.execute("sign", "--csr", s.path("server.csr"), "--root-cert", s.path("root.crt"), "--root-key", s.path("root.key"),
		"--days", "30", "-o", s.path("server.crt"))
	s.Require().NoError(err)
}

func (s *CobraAppTestSuite) TestWalkthrough() {
	s.walkthrough()

	s.assertMode("root.key", util.PrivateFileMode)
	s.assertMode("server.key", util.PrivateFileMode)
	s.assertMode("root.crt", util.PublicFileMode)
	s.assertMode("server.csr", util.PublicFileMode)
	s.assertMode("server.crt", util.PublicFileMode)

	rootPEM, err := os.ReadFile(s.path("root.crt"))
	s.Require().NoError(err)
	roots, err := pkix.DecodeCertificates(rootPEM)
	s.Require().NoError(err)
	s.Require().Len(roots, 1)
	s.Equal("US", roots[0].Subject.Country)
	s.True(roots[0].Extensions.IsCA())
	s.True(s.now.Equal(roots[0].Validity.NotBefore))

	chainPEM, err := os.ReadFile(s.path("server.crt"))
	s.Require().NoError(err)
	chain, err := pkix.DecodeCertificates(chainPEM)
	s.Require().NoError(err)
	s.Require().Len(chain, 2)
	s.False(chain[0].Extensions.IsCA())
	s.Equal([]pkix.ExtKeyUsage{pkix.ExtKeyUsageServerAuth}, chain[0].Extensions.ExtKeyUsage)
	s.Len(chain[0].Extensions.SubjectAltNames, 2)
	s.Equal(30*24*time.Hour, chain[0].Validity.Lifetime())
	s.True(chain[1].Equal(roots[0]))

	report, err := s.execute("verify", "--cert", s.path("server.crt"), "--root-cert", s.path("root.crt"),
		"--hostname", "68.183.142.158", "--at", "2026-01-15T00:00:00Z")
	s.Require().NoError(err)
	s.Contains(report, "chain: OK")
}

func (s *CobraAppTestSuite) TestVerifyFailureReport() {
	s.walkthrough()

	report, err := s.execute("verify", "--cert", s.path("server.crt"), "--root-cert", s.path("root.crt"),
		"--hostname", "other.com", "--at", "2027-01-01T00:00:00Z")
	s.ErrorIs(err, errChainInvalid)
	s.Contains(report, "chain: FAILED")
	s.Contains(report, string(pkix.ReasonLeafExpired))
	s.Contains(report, string(pkix.ReasonHostnameMismatch))

	_, err = s.execute("verify", "--cert", s.path("server.crt"), "--root-cert", s.path("root.crt"), "--at", "yesterday")
	s.Error(err)
}

func (s *CobraAppTestSuite) TestInspect() {
	s.walkthrough()

	out, err := s.execute("inspect", s.path("server.crt"))
	s.Require().NoError(err)
	views := []certificateView{}
	s.Require().NoError(json.Unmarshal([]byte(out), &views))
	s.Require().Len(views, 2)
	s.Equal("mynginx.com", views[0].Subject.CommonName)
	s.Equal("Local Dev Root CA", views[0].Issuer.CommonName)
	s.Equal(hex.EncodeToString(views[1].Extensions.SubjectKeyID), views[1].PublicKeyID)
	s.Contains(views[0].FingerPrint, "sha256:")

	out, err = s.execute("inspect", s.path("server.csr"))
	s.Require().NoError(err)
	csrView := certificateRequestView{}
	s.Require().NoError(json.Unmarshal([]byte(out), &csrView))
	s.Equal("mynginx.com", csrView.Subject.CommonName)
	s.True(csrView.ProofOfPossession)

	_, err = s.execute("inspect", s.path("server.key"))
	s.Error(err)
}

func (s *CobraAppTestSuite) TestEncryptedKey() {
	s.T().Setenv("TEST_LOCALCA_PASSPHRASE", "correct horse battery staple")

	_, err := s.execute("key", "--encrypt", "--passphrase-env", "TEST_LOCALCA_PASSPHRASE", "-o", s.path("root.key"))
	s.Require().NoError(err)
	keyPEM, err := os.ReadFile(s.path("root.key"))
	s.Require().NoError(err)
	s.Contains(string(keyPEM), "ENCRYPTED PRIVATE KEY")

	_, err = s.execute("root", "-k", s.path("root.key"), "--common-name", "Encrypted Root", "-o", s.path("root.crt"))
	s.ErrorIs(err, pkix.ErrInvalidParameter)

	_, err = s.execute("root", "--passphrase-env", "TEST_LOCALCA_PASSPHRASE", "-k", s.path("root.key"), "--common-name", "Encrypted Root", "-o", s.path("root.crt"))
	s.Require().NoError(err)

	_, err = s.execute("key", "--encrypt", "--passphrase-env", "TEST_LOCALCA_UNSET_PASSPHRASE", "-o", s.path("other.key"))
	s.Error(err)
	s.NoFileExists(s.path("other.key"))
}

func (s *CobraAppTestSuite) TestPolicy() {
	policyPath := s.path("policy.yaml")
	s.Require().NoError(os.WriteFile(policyPath, []byte("min_rsa_bits: 3072\nmax_leaf_lifetime_days: 7\n"), 0644))

	_, err := s.execute("key", "--policy", policyPath, "-t", "RSA", "-b", "2048", "-o", s.path("weak.key"))
	s.ErrorIs(err, pkix.ErrWeakKey)
	s.NoFileExists(s.path("weak.key"))

	s.walkthrough()
	_, err = s.execute("sign", "--policy", policyPath, "--csr", s.path("server.csr"), "--root-cert", s.path("root.crt"),
		"--root-key", s.path("root.key"), "--chain=false", "-o", s.path("short.crt"))
	s.Require().NoError(err)

	chainPEM, err := os.ReadFile(s.path("short.crt"))
	s.Require().NoError(err)
	chain, err := pkix.DecodeCertificates(chainPEM)
	s.Require().NoError(err)
	s.Require().Len(chain, 1)
	s.Equal(7*24*time.Hour, chain[0].Validity.Lifetime())
}

func (s *CobraAppTestSuite) TestInvalidInput() {
	_, err := s.execute("key", "-t", "ECDSA", "--curve", "P-224", "-o", s.path("bad.key"))
	s.Error(err)

	_, err = s.execute("key", "-o", s.path("server.key"))
	s.Require().NoError(err)
	_, err = s.execute("csr", "-k", s.path("server.key"), "--common-name", "bad", "--san", "DNS:bad..name", "-o", s.path("bad.csr"))
	s.ErrorIs(err, pkix.ErrInvalidSAN)

	_, err = s.execute("root", "-k", s.path("server.key"), "-o", s.path("root.crt"))
	s.Error(err)
}
