package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	otlp_util "github.com/bluexlab/otlp-util-go"
	"github.com/gobuffalo/packr/v2"
	"github.com/gobuffalo/pop"
	"github.com/gobuffalo/pop/logging"
	"github.com/goccy/go-json"
	"github.com/openebl/localca/pkg/ca_server/api"
	"github.com/openebl/localca/pkg/ca_server/cert_authority"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/config"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
	"github.com/sirupsen/logrus"
)

const appName string = "ca-server"

type App struct{}

type PrivateKeyOption struct {
	KeyType   pkix.PrivateKeyType `enum:"RSA,ECDSA" short:"t" long:"type" help:"Key type" default:"ECDSA"`
	BitLength int                 `short:"b" long:"bit-length" help:"Key bit length" default:"2048"`
	CurveType pkix.ECDSACurveType `enum:"P-256,P-384,P-521" long:"curve" help:"Key curve type" default:"P-256"`
}

func (o PrivateKeyOption) option() pkix.PrivateKeyOption {
	return pkix.PrivateKeyOption{KeyType: o.KeyType, BitLength: o.BitLength, CurveType: o.CurveType}
}

type SubjectOption struct {
	Country    string `long:"country" help:"Country name"`
	State      string `long:"state" help:"State or province name"`
	Locality   string `long:"locality" help:"Locality name"`
	Org        string `long:"org" help:"Organization name"`
	Unit       string `long:"unit" help:"Organizational unit name"`
	CommonName string `long:"common-name" help:"Common name" required:""`
}

func (o SubjectOption) subject() pkix.Subject {
	return pkix.Subject{
		Country:            o.Country,
		State:              o.State,
		Locality:           o.Locality,
		Organization:       o.Org,
		OrganizationalUnit: o.Unit,
		CommonName:         o.CommonName,
	}
}

type ServerCmd struct {
	Config string `short:"c" long:"config" type:"existingfile" help:"Path to the configuration file" required:""`
}

type MigrateCmd struct {
	Config     string `short:"c" long:"config" type:"existingfile" help:"Path to the configuration file" required:""`
	Migrations string `short:"p" long:"path" type:"existingdir" help:"Path to the migration files. The embedded migrations are used when empty."`
}

type RootCertCreateCmd struct {
	PrivateKeyOption
	SubjectOption
	Requester string    `short:"r" long:"requester" help:"Requester name" required:""`
	NotBefore time.Time `long:"not-before" help:"Start of the validity period (RFC3339)"`
	NotAfter  time.Time `long:"not-after" help:"End of the validity period (RFC3339)"`
}

type RootCertListCmd struct {
	Offset int `long:"offset" help:"Offset" default:"0"`
	Limit  int `long:"limit" help:"Limit" default:"50"`
}

type RootCertGetCmd struct {
	ID  string `arg:"" help:"Root certificate ID"`
	Out string `short:"o" long:"out" help:"Write the PEM certificate to this file instead of printing the record"`
}

type CertAddCmd struct {
	Requester string `short:"r" long:"requester" help:"Requester name" required:""`
	CSR       []byte `type:"filecontent" help:"Certificate Signing Request" required:""`
}

type CertCreateCmd struct {
	PrivateKeyOption
	SubjectOption
	Requester    string             `short:"r" long:"requester" help:"Requester name" required:""`
	SAN          []string           `long:"san" help:"Subject alternative name, DNS:name or IP:address" required:""`
	ExtKeyUsages []pkix.ExtKeyUsage `long:"ext-key-usage" help:"Extended key usage (server_auth, client_auth)"`
}

type CertIssueCmd struct {
	Requester  string    `short:"r" long:"requester" help:"Requester name" required:""`
	ID         string    `arg:"" help:"Certificate ID"`
	RootCertID string    `long:"root-cert-id" help:"Root certificate ID" required:""`
	NotBefore  time.Time `long:"not-before" help:"Start of the validity period (RFC3339)"`
	NotAfter   time.Time `long:"not-after" help:"End of the validity period (RFC3339)"`
}

type CertRejectCmd struct {
	Requester string `short:"r" long:"requester" help:"Requester name" required:""`
	ID        string `arg:"" help:"Certificate ID"`
	Reason    string `required:"" help:"Reject Reason"`
}

type CertListCmd struct {
	Offset int                `long:"offset" help:"Offset" default:"0"`
	Limit  int                `long:"limit" help:"Limit" default:"50"`
	Status []model.CertStatus `long:"status" help:"Filter by status (active, waiting_for_issued, rejected)"`
}

type CertGetCmd RootCertGetCmd

type CertVerifyCmd struct {
	ID       string `arg:"" help:"Certificate ID"`
	Hostname string `long:"hostname" help:"DNS name or IP address the certificate must cover"`
}

type CertBundleCmd struct {
	Requester  string `short:"r" long:"requester" help:"Requester name" required:""`
	ID         string `arg:"" help:"Certificate ID"`
	Passphrase string `long:"passphrase" env:"LOCALCA_BUNDLE_PASSPHRASE" help:"Encrypt the exported private key"`
	OutDir     string `short:"o" long:"out-dir" help:"Directory for <id>.crt and <id>.key" default:"."`
}

type CAServerCli struct {
	Server  ServerCmd  `cmd:"" help:"Run CA server."`
	Migrate MigrateCmd `cmd:"" help:"Migrate database."`

	Client struct {
		Server string `short:"s" long:"server" help:"Server address" required:""`

		RootCert struct {
			Create RootCertCreateCmd `cmd:""`
			List   RootCertListCmd   `cmd:""`
			Get    RootCertGetCmd    `cmd:""`
		} `cmd:""`

		Cert struct {
			Add    CertAddCmd    `cmd:"" help:"Submit a certificate signing request."`
			Create CertCreateCmd `cmd:"" help:"Let the server generate the key and the certificate signing request."`
			Issue  CertIssueCmd  `cmd:""`
			Reject CertRejectCmd `cmd:""`
			List   CertListCmd   `cmd:""`
			Get    CertGetCmd    `cmd:""`
			Verify CertVerifyCmd `cmd:""`
			Bundle CertBundleCmd `cmd:"" help:"Export the certificate chain and the private key."`
		} `cmd:""`
	} `cmd:""`
}

func (*App) Run() {
	cli := CAServerCli{}
	ctx := kong.Parse(&cli, kong.Name(appName), kong.Description("Local certificate authority server."))
	err := ctx.Run(&cli)
	if err != nil {
		logrus.Errorf("failed to run command: %v", err)
		os.Exit(1)
	}
}

func (cmd *ServerCmd) Run(cli *CAServerCli) error {
	cfg := api.RestServerConfig{}
	if err := config.FromFile(cmd.Config, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	if endpoint := cfg.OTLPEndpoint; endpoint != "" {
		exporter, err := otlp_util.InitExporter(
			otlp_util.WithContext(ctx),
			otlp_util.WithEndPoint(endpoint),
			otlp_util.WithServiceName(appName),
			otlp_util.WithInSecure(),
			otlp_util.WithErrorHandler(func(err error) {
				logrus.Warnf("OTLP error: %v", err)
			}),
		)
		if err != nil {
			logrus.Errorf("failed to initialize OTLP exporter: %v", err)
		} else {
			defer func() { _ = exporter.Shutdown(ctx) }()
		}
	}

	restServer, err := api.NewRestServerWithConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create rest server: %w", err)
	}

	logrus.Info("starting ca server.")
	go func() {
		if err := restServer.Run(); err != nil {
			logrus.Errorf("failed to start ca server: %v", err)
			os.Exit(1)
		}
	}()

	cmd.waitForInterrupt()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return restServer.Close(shutdownCtx)
}

func (cmd *ServerCmd) waitForInterrupt() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server......")
}

func (cmd *MigrateCmd) Run(cli *CAServerCli) error {
	popLogger := func(lvl logging.Level, s string, args ...interface{}) {
		switch lvl {
		case logging.Debug:
			logrus.Debugf(s, args...)
		case logging.Info:
			logrus.Infof(s, args...)
		case logging.Warn:
			logrus.Warnf(s, args...)
		case logging.Error:
			logrus.Errorf(s, args...)
		case logging.SQL:
			// SQL statements are not logged.
		}
	}

	pop.SetLogger(popLogger)
	cfg := api.RestServerConfig{}
	if err := config.FromFile(cmd.Config, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cd := pop.ConnectionDetails{
		Dialect:  "postgres",
		Database: cfg.Database.Database,
		Host:     cfg.Database.Host,
		Port:     fmt.Sprintf("%d", cfg.Database.Port),
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
	}
	if cfg.Database.SSLMode != "" {
		cd.Options = map[string]string{"sslmode": cfg.Database.SSLMode}
	}
	conn, err := pop.NewConnection(&cd)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}

	if err := conn.Dialect.CreateDB(); err != nil {
		logrus.Warnf("failed to create database: %v", err)
	}

	var migrator pop.Migrator
	if cmd.Migrations != "" {
		fileMigrator, err := pop.NewFileMigrator(cmd.Migrations, conn)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		migrator = fileMigrator.Migrator
	} else {
		boxMigrator, err := pop.NewMigrationBox(packr.New("migrations", "../../../migrations"), conn)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		migrator = boxMigrator.Migrator
	}
	// Remove SchemaPath to prevent migrator try to dump schema.
	migrator.SchemaPath = ""

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	return nil
}

func printJSON(v any) {
	pretty := bytes.Buffer{}
	json.Indent(&pretty, []byte(util.StructToJSON(v)), "", "  ")
	fmt.Println(pretty.String())
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (cmd *RootCertCreateCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	cert, err := client.CreateRootCert(cert_authority.CreateRootCertificateRequest{
		PrivateKeyOption: cmd.PrivateKeyOption.option(),
		Subject:          cmd.SubjectOption.subject(),
		NotBefore:        unixOrZero(cmd.NotBefore),
		NotAfter:         unixOrZero(cmd.NotAfter),
	})
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	logrus.Infof("Root certificate created with ID: %s (%s)", cert.ID, cert.CertFingerPrint)
	return nil
}

func (cmd *RootCertListCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, "")
	certs, err := client.ListRootCert(cmd.Offset, cmd.Limit)
	if err != nil {
		return fmt.Errorf("failed to list root certificates: %w", err)
	}

	printJSON(certs)
	return nil
}

func (cmd *RootCertGetCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, "")
	cert, err := client.GetRootCert(cmd.ID)
	if err != nil {
		return fmt.Errorf("failed to get root certificate: %w", err)
	}

	return outputCert(cert, cmd.Out)
}

func (cmd *CertAddCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	cert, err := client.AddCert(string(cmd.CSR))
	if err != nil {
		return fmt.Errorf("failed to add certificate: %w", err)
	}

	logrus.Infof("Certificate signing request added with ID: %s", cert.ID)
	return nil
}

func (cmd *CertCreateCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	cert, err := client.CreateServerCert(cert_authority.CreateServerCertificateRequest{
		PrivateKeyOption: cmd.PrivateKeyOption.option(),
		Subject:          cmd.SubjectOption.subject(),
		SubjectAltNames:  cmd.SAN,
		ExtKeyUsages:     cmd.ExtKeyUsages,
	})
	if err != nil {
		return fmt.Errorf("failed to create server certificate: %w", err)
	}

	logrus.Infof("Certificate signing request created with ID: %s", cert.ID)
	return nil
}

func (cmd *CertIssueCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	cert, err := client.IssueCert(cmd.ID, cmd.RootCertID, cmd.NotBefore, cmd.NotAfter)
	if err != nil {
		return fmt.Errorf("failed to issue certificate: %w", err)
	}

	logrus.Infof("Certificate issued with ID: %s, serial number: %s", cert.ID, cert.CertificateSerialNumber)
	return nil
}

func (cmd *CertRejectCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	cert, err := client.RejectCert(cmd.ID, cmd.Reason)
	if err != nil {
		return fmt.Errorf("failed to reject certificate: %w", err)
	}

	logrus.Infof("Certificate rejected with ID: %s", cert.ID)
	return nil
}

func (cmd *CertListCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, "")
	certs, err := client.ListCert(cmd.Offset, cmd.Limit, cmd.Status...)
	if err != nil {
		return fmt.Errorf("failed to list certificates: %w", err)
	}

	printJSON(certs)
	return nil
}

func (cmd *CertGetCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, "")
	cert, err := client.GetCert(cmd.ID)
	if err != nil {
		return fmt.Errorf("failed to get certificate: %w", err)
	}

	return outputCert(cert, cmd.Out)
}

func (cmd *CertVerifyCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, "")
	result, err := client.VerifyCert(cmd.ID, cmd.Hostname)
	if err != nil {
		return fmt.Errorf("failed to verify certificate: %w", err)
	}

	fmt.Println(result.Report())
	if !result.Valid {
		return fmt.Errorf("certificate %s is not valid", cmd.ID)
	}
	return nil
}

func (cmd *CertBundleCmd) Run(cli *CAServerCli) error {
	client := NewRestClient(cli.Client.Server, cmd.Requester)
	bundle, err := client.ExportBundle(cmd.ID, cmd.Passphrase)
	if err != nil {
		return fmt.Errorf("failed to export bundle: %w", err)
	}

	return writeBundle(bundle, cmd.OutDir)
}

func outputCert(cert model.Cert, out string) error {
	if out == "" {
		printJSON(cert)
		return nil
	}
	if cert.Certificate == "" {
		return fmt.Errorf("certificate %s is %s and has no certificate yet", cert.ID, cert.Status)
	}
	if err := util.AtomicWriteFile(out, []byte(cert.Certificate), util.PublicFileMode); err != nil {
		return err
	}
	logrus.Infof("Certificate %s written to %s", cert.ID, out)
	return nil
}

func writeBundle(bundle model.Bundle, outDir string) error {
	certPath := filepath.Join(outDir, bundle.CertID+".crt")
	keyPath := filepath.Join(outDir, bundle.CertID+".key")
	if err := util.AtomicWriteFile(keyPath, []byte(bundle.PrivateKey), util.PrivateFileMode); err != nil {
		return err
	}
	if err := util.AtomicWriteFile(certPath, []byte(bundle.Certificate), util.PublicFileMode); err != nil {
		return err
	}
	logrus.Infof("Bundle of certificate %s written to %s and %s", bundle.CertID, certPath, keyPath)
	return nil
}
