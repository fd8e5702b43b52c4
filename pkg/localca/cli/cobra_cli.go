package cli

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/openebl/localca/pkg/config"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	cobraAppName = "localca"

	defaultPassphraseEnv = "LOCALCA_KEY_PASSPHRASE"
)

var errChainInvalid = errors.New("certificate chain is not valid")

// CobraApp is the offline tool. It works on PEM files only and never talks to a CA server.
type CobraApp struct {
	rootCmd *cobra.Command
	now     func() time.Time
}

func NewCobraApp() *CobraApp {
	app := &CobraApp{now: time.Now}
	app.rootCmd = &cobra.Command{
		Use:           cobraAppName,
		Short:         "Local root CA for development",
		Long:          `localca creates a root CA, server keys and certificate signing requests, signs them and verifies the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.rootCmd.PersistentFlags().String("policy", "", "Path to a YAML issuance policy. Defaults to the built-in policy")
	app.rootCmd.PersistentFlags().String("passphrase-env", defaultPassphraseEnv, "Environment variable holding the passphrase of private keys")
	app.rootCmd.MarkPersistentFlagFilename("policy")

	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Generate a private key",
		Args:  cobra.NoArgs,
		RunE:  app.runKey,
	}
	addKeyFlags(keyCmd)
	keyCmd.Flags().StringP("out", "o", "", "Output file of the private key")
	keyCmd.MarkFlagRequired("out")
	app.rootCmd.AddCommand(keyCmd)

	rootCmd := &cobra.Command{
		Use:   "root",
		Short: "Create a self-signed root CA certificate",
		Args:  cobra.NoArgs,
		RunE:  app.runRoot,
	}
	addSubjectFlags(rootCmd)
	rootCmd.Flags().StringP("key", "k", "", "Private key of the root CA")
	rootCmd.Flags().Int("days", int(pkix.DefaultRootLifetime/(24*time.Hour)), "Validity in days")
	rootCmd.Flags().StringP("out", "o", "", "Output file of the root certificate")
	rootCmd.MarkFlagRequired("key")
	rootCmd.MarkFlagRequired("out")
	app.rootCmd.AddCommand(rootCmd)

	csrCmd := &cobra.Command{
		Use:   "csr",
		Short: "Create a certificate signing request",
		Args:  cobra.NoArgs,
		RunE:  app.runCSR,
	}
	addSubjectFlags(csrCmd)
	csrCmd.Flags().StringP("key", "k", "", "Private key of the server")
	csrCmd.Flags().StringArray("san", nil, `Subject alternative name, "DNS:name" or "IP:address". Repeatable`)
	csrCmd.Flags().StringArray("ext-key-usage", nil, "Requested extended key usage (server_auth, client_auth). Repeatable")
	csrCmd.Flags().StringP("out", "o", "", "Output file of the certificate signing request")
	csrCmd.MarkFlagRequired("key")
	csrCmd.MarkFlagRequired("out")
	app.rootCmd.AddCommand(csrCmd)

	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a certificate signing request with the root CA",
		Args:  cobra.NoArgs,
		RunE:  app.runSign,
	}
	signCmd.Flags().String("csr", "", "Certificate signing request")
	signCmd.Flags().String("root-cert", "", "Root CA certificate")
	signCmd.Flags().String("root-key", "", "Root CA private key")
	signCmd.Flags().Int("days", int(pkix.DefaultLeafLifetime/(24*time.Hour)), "Validity in days")
	signCmd.Flags().Bool("chain", true, "Append the root certificate to the output")
	signCmd.Flags().StringP("out", "o", "", "Output file of the certificate")
	signCmd.MarkFlagRequired("csr")
	signCmd.MarkFlagRequired("root-cert")
	signCmd.MarkFlagRequired("root-key")
	signCmd.MarkFlagRequired("out")
	app.rootCmd.AddCommand(signCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a certificate against the root CA",
		Args:  cobra.NoArgs,
		RunE:  app.runVerify,
	}
	verifyCmd.Flags().String("cert", "", "Certificate to verify. Only the first certificate of a chain is checked")
	verifyCmd.Flags().String("root-cert", "", "Root CA certificate")
	verifyCmd.Flags().String("hostname", "", "DNS name or IP address the certificate must cover")
	verifyCmd.Flags().String("at", "", "Time of the check (RFC3339). Defaults to now")
	verifyCmd.MarkFlagRequired("cert")
	verifyCmd.MarkFlagRequired("root-cert")
	app.rootCmd.AddCommand(verifyCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the certificates or the certificate signing request in a PEM file",
		Args:  cobra.ExactArgs(1),
		RunE:  app.runInspect,
	}
	app.rootCmd.AddCommand(inspectCmd)

	return app
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("type", "t", string(pkix.PrivateKeyTypeECDSA), "Key type (RSA or ECDSA)")
	cmd.Flags().IntP("bit-length", "b", 2048, "Key bit length")
	cmd.Flags().String("curve", string(pkix.ECDSACurveTypeP256), "Key curve type (P-256, P-384, P-521)")
	cmd.Flags().Bool("encrypt", false, "Encrypt the private key with the passphrase")
}

func addSubjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("country", "", "Country name")
	cmd.Flags().String("state", "", "State or province name")
	cmd.Flags().String("locality", "", "Locality name")
	cmd.Flags().String("org", "", "Organization name")
	cmd.Flags().String("unit", "", "Organizational unit name")
	cmd.Flags().String("common-name", "", "Common name")
	cmd.MarkFlagRequired("common-name")
}

func (app *CobraApp) Run() {
	if err := app.rootCmd.Execute(); err != nil {
		logrus.Errorf("failed to run command: %v", err)
		os.Exit(1)
	}
}

func (app *CobraApp) runKey(cmd *cobra.Command, args []string) error {
	policy, err := loadPolicy(cmd)
	if err != nil {
		return err
	}
	keyType, _ := cmd.Flags().GetString("type")
	bitLength, _ := cmd.Flags().GetInt("bit-length")
	curve, _ := cmd.Flags().GetString("curve")
	encrypt, _ := cmd.Flags().GetBool("encrypt")
	out, _ := cmd.Flags().GetString("out")

	option := pkix.PrivateKeyOption{
		KeyType:   pkix.PrivateKeyType(keyType),
		BitLength: bitLength,
		CurveType: pkix.ECDSACurveType(curve),
	}
	keyPair, err := pkix.CreatePrivateKeyWithPolicy(option, policy, rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to create private key: %w", err)
	}

	var password []byte
	if encrypt {
		password, err = passphrase(cmd)
		if err != nil {
			return err
		}
	}
	keyPEM, err := pkix.MarshalPrivateKey(keyPair, password)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(out, []byte(keyPEM), util.PrivateFileMode); err != nil {
		return err
	}

	logrus.Infof("%s private key written to %s", option, out)
	return nil
}

func (app *CobraApp) runRoot(cmd *cobra.Command, args []string) error {
	policy, err := loadPolicy(cmd)
	if err != nil {
		return err
	}
	keyPath, _ := cmd.Flags().GetString("key")
	days, _ := cmd.Flags().GetInt("days")
	out, _ := cmd.Flags().GetString("out")

	keyPair, err := readPrivateKey(cmd, keyPath)
	if err != nil {
		return err
	}

	validity := pkix.NewValidity(app.now(), time.Duration(days)*24*time.Hour)
	root, err := pkix.IssueRootCertificate(keyPair, subjectFromFlags(cmd), validity, policy, nil)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootPEM, err := pkix.EncodeCertificates(root)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(out, []byte(rootPEM), util.PublicFileMode); err != nil {
		return err
	}

	logrus.Infof("Root certificate %q (serial %s) written to %s", root.Subject.CommonName, root.SerialNumber.Text(16), out)
	return nil
}

func (app *CobraApp) runCSR(cmd *cobra.Command, args []string) error {
	keyPath, _ := cmd.Flags().GetString("key")
	sanValues, _ := cmd.Flags().GetStringArray("san")
	extKeyUsages, _ := cmd.Flags().GetStringArray("ext-key-usage")
	out, _ := cmd.Flags().GetString("out")

	keyPair, err := readPrivateKey(cmd, keyPath)
	if err != nil {
		return err
	}
	sans, err := pkix.ParseSANList(sanValues)
	if err != nil {
		return err
	}

	var opts []pkix.CSROption
	if len(extKeyUsages) > 0 {
		opts = append(opts, pkix.WithExtKeyUsage(lo.Map(extKeyUsages, func(s string, _ int) pkix.ExtKeyUsage { return pkix.ExtKeyUsage(s) })...))
	}
	csr, err := pkix.CreateCertificateSigningRequest(keyPair, subjectFromFlags(cmd), sans, opts...)
	if err != nil {
		return fmt.Errorf("failed to create certificate signing request: %w", err)
	}

	csrPEM, err := pkix.MarshalCertificateRequest(csr)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(out, []byte(csrPEM), util.PublicFileMode); err != nil {
		return err
	}

	logrus.Infof("Certificate signing request for %q written to %s", csr.Subject.CommonName, out)
	return nil
}

func (app *CobraApp) runSign(cmd *cobra.Command, args []string) error {
	policy, err := loadPolicy(cmd)
	if err != nil {
		return err
	}
	csrPath, _ := cmd.Flags().GetString("csr")
	rootCertPath, _ := cmd.Flags().GetString("root-cert")
	rootKeyPath, _ := cmd.Flags().GetString("root-key")
	days, _ := cmd.Flags().GetInt("days")
	chain, _ := cmd.Flags().GetBool("chain")
	out, _ := cmd.Flags().GetString("out")

	csrPEM, err := os.ReadFile(csrPath)
	if err != nil {
		return err
	}
	csr, err := pkix.ParseCertificateRequest(csrPEM)
	if err != nil {
		return err
	}
	root, err := readCertificate(rootCertPath)
	if err != nil {
		return err
	}
	rootKey, err := readPrivateKey(cmd, rootKeyPath)
	if err != nil {
		return err
	}

	issuer, err := pkix.NewIssuer(rootKey, root, nil)
	if err != nil {
		return err
	}
	leaf, err := issuer.Sign(csr, policy, pkix.NewValidity(app.now(), time.Duration(days)*24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to sign certificate: %w", err)
	}

	certs := []*pkix.Certificate{leaf}
	if chain {
		certs = append(certs, root)
	}
	leafPEM, err := pkix.EncodeCertificates(certs...)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(out, []byte(leafPEM), util.PublicFileMode); err != nil {
		return err
	}

	logrus.Infof("Certificate %q (serial %s, valid until %s) written to %s", leaf.Subject.CommonName,
		leaf.SerialNumber.Text(16), leaf.Validity.NotAfter.Format(time.RFC3339), out)
	return nil
}

func (app *CobraApp) runVerify(cmd *cobra.Command, args []string) error {
	certPath, _ := cmd.Flags().GetString("cert")
	rootCertPath, _ := cmd.Flags().GetString("root-cert")
	hostname, _ := cmd.Flags().GetString("hostname")
	at, _ := cmd.Flags().GetString("at")

	opts := pkix.VerifyOptions{Hostname: hostname, At: app.now()}
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", at, err)
		}
		opts.At = t
	}

	leaf, err := readCertificate(certPath)
	if err != nil {
		return err
	}
	root, err := readCertificate(rootCertPath)
	if err != nil {
		return err
	}

	result := pkix.VerifyChain(leaf, root, opts)
	fmt.Fprint(cmd.OutOrStdout(), result.Report())
	if !result.Valid {
		return errChainInvalid
	}
	return nil
}

type certificateView struct {
	Subject      pkix.Subject      `json:"subject"`
	Issuer       pkix.Subject      `json:"issuer"`
	SerialNumber string            `json:"serial_number"`
	Validity     pkix.Validity     `json:"validity"`
	Extensions   pkix.ExtensionSet `json:"extensions"`
	PublicKeyID  string            `json:"public_key_id"`
	FingerPrint  string            `json:"fingerprint"`
}

type certificateRequestView struct {
	Subject             pkix.Subject      `json:"subject"`
	RequestedExtensions pkix.ExtensionSet `json:"requested_extensions"`
	PublicKeyID         string            `json:"public_key_id"`
	ProofOfPossession   bool              `json:"proof_of_possession"`
}

func (app *CobraApp) runInspect(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var view any
	if csr, err := pkix.ParseCertificateRequest(content); err == nil {
		view = certificateRequestView{
			Subject:             csr.Subject,
			RequestedExtensions: csr.RequestedExtensions,
			PublicKeyID:         pkix.GetPublicKeyID(csr.PublicKey),
			ProofOfPossession:   csr.CheckProofOfPossession() == nil,
		}
	} else {
		certs, err := pkix.DecodeCertificates(content)
		if err != nil {
			return fmt.Errorf("%s holds neither certificates nor a certificate signing request: %w", args[0], err)
		}
		view = lo.Map(certs, func(cert *pkix.Certificate, _ int) certificateView {
			return certificateView{
				Subject:      cert.Subject,
				Issuer:       cert.Issuer,
				SerialNumber: cert.SerialNumber.Text(16),
				Validity:     cert.Validity,
				Extensions:   cert.Extensions,
				PublicKeyID:  pkix.GetPublicKeyID(cert.PublicKey),
				FingerPrint:  pkix.GetFingerPrintFromCertificate(*cert.X509()),
			}
		})
	}

	return printJSON(cmd.OutOrStdout(), view)
}

func printJSON(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pretty := bytes.Buffer{}
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, pretty.String())
	return err
}

func loadPolicy(cmd *cobra.Command) (pkix.Policy, error) {
	policyPath, _ := cmd.Flags().GetString("policy")
	if policyPath == "" {
		return pkix.DefaultPolicy(), nil
	}

	cfg := pkix.PolicyConfig{}
	if err := config.FromFile(policyPath, &cfg); err != nil {
		return pkix.Policy{}, fmt.Errorf("failed to load policy: %w", err)
	}
	return cfg.Policy()
}

func passphrase(cmd *cobra.Command) ([]byte, error) {
	env, _ := cmd.Flags().GetString("passphrase-env")
	value := os.Getenv(env)
	if value == "" {
		return nil, fmt.Errorf("passphrase is required: set %s", env)
	}
	return []byte(value), nil
}

func readPrivateKey(cmd *cobra.Command, path string) (*pkix.KeyPair, error) {
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	env, _ := cmd.Flags().GetString("passphrase-env")
	keyPair, err := pkix.ParsePrivateKey(keyPEM, []byte(os.Getenv(env)))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key %s: %w", path, err)
	}
	return keyPair, nil
}

// readCertificate returns the first certificate of the PEM file at path.
func readCertificate(path string) (*pkix.Certificate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := pkix.DecodeCertificates(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", path, err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate in %s", path)
	}
	return certs[0], nil
}

func subjectFromFlags(cmd *cobra.Command) pkix.Subject {
	get := func(name string) string {
		value, _ := cmd.Flags().GetString(name)
		return value
	}
	return pkix.Subject{
		Country:            get("country"),
		State:              get("state"),
		Locality:           get("locality"),
		Organization:       get("org"),
		OrganizationalUnit: get("unit"),
		CommonName:         get("common-name"),
	}
}
