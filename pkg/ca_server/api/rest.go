package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/openebl/localca/pkg/ca_server/cert_authority"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/publisher"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/ca_server/storage/postgres"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
	"golang.org/x/time/rate"
)

type ContextKey string

const (
	REQUESTER_HEADER         = "X-Requester"
	BUNDLE_PASSPHRASE_HEADER = "X-Bundle-Passphrase"
	REQUESTER_CONTEXT_KEY    = ContextKey("requester")
)

type TrustBundleConfig struct {
	Path     string        `yaml:"path"`     // Where the PEM trust bundle is written. Empty disables the publisher.
	Interval time.Duration `yaml:"interval"` // How often the bundle is refreshed.
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // Zero disables rate limiting.
	Burst             int     `yaml:"burst"`
}

type RestServerConfig struct {
	Database             util.PostgresDatabaseConfig `yaml:"database"`
	PrivateServerAddress string                      `yaml:"private_server_address"`
	PublicServerAddress  string                      `yaml:"public_server_address"`
	OTLPEndpoint         string                      `yaml:"otlp_endpoint"`
	KeyPassphrase        string                      `yaml:"key_passphrase"`
	Policy               pkix.PolicyConfig           `yaml:"policy"`
	TrustBundle          TrustBundleConfig           `yaml:"trust_bundle"`
	RateLimit            RateLimitConfig             `yaml:"rate_limit"`
}

type RestServer struct {
	ca                cert_authority.CertAuthority
	publisher         *publisher.Publisher
	privateHttpServer *http.Server
	publicHttpServer  *http.Server
}

func ExtractRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requester := r.Header.Get(REQUESTER_HEADER)
		ctx = context.WithValue(ctx, REQUESTER_CONTEXT_KEY, requester)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit rejects requests beyond the rate allowed by limiter with 429.
func RateLimit(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func NewRestServerWithConfig(config RestServerConfig) (*RestServer, error) {
	policy, err := config.Policy.Policy()
	if err != nil {
		return nil, err
	}

	certStorage, err := postgres.NewStorageWithConfig(config.Database)
	if err != nil {
		return nil, err
	}

	ca := cert_authority.NewCertAuthority(
		certStorage,
		cert_authority.CertAuthorityWithPolicy(policy),
		cert_authority.CertAuthorityWithKeyPassphrase(config.KeyPassphrase),
	)

	var pub *publisher.Publisher
	if config.TrustBundle.Path != "" {
		options := []publisher.PublisherOption{
			publisher.PublisherWithCertStorage(certStorage),
			publisher.PublisherWithBundlePath(config.TrustBundle.Path),
		}
		if config.TrustBundle.Interval > 0 {
			options = append(options, publisher.PublisherWithInterval(config.TrustBundle.Interval))
		}
		pub = publisher.NewPublisher(options...)
	}

	var limiter *rate.Limiter
	if config.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit.RequestsPerSecond), max(config.RateLimit.Burst, 1))
	}

	return NewRestServerWithController(ca, pub, limiter, config.PrivateServerAddress, config.PublicServerAddress), nil
}

// NewRestServerWithController wires the routers. A nil publisher or limiter disables the feature.
func NewRestServerWithController(ca cert_authority.CertAuthority, publisher *publisher.Publisher, limiter *rate.Limiter, privateAddress, publicAddress string) *RestServer {
	restServer := &RestServer{
		ca:        ca,
		publisher: publisher,
	}

	registerPublicEndpoints := func(r *mux.Router) {
		r.HandleFunc("/root_cert", restServer.listRootCert).Methods(http.MethodGet)
		r.HandleFunc("/root_cert/{id}", restServer.getRootCert).Methods(http.MethodGet)
		r.HandleFunc("/cert", restServer.listCert).Methods(http.MethodGet)
		r.HandleFunc("/cert/{id}", restServer.getCert).Methods(http.MethodGet)
		r.HandleFunc("/cert/{id}/verify", restServer.verifyCert).Methods(http.MethodGet)
	}

	privateRouter := mux.NewRouter()
	privateRouter.Use(Log, ExtractRequester)
	if limiter != nil {
		privateRouter.Use(RateLimit(limiter))
	}
	privateRouter.HandleFunc("/root_cert", restServer.createRootCert).Methods(http.MethodPost)
	privateRouter.HandleFunc("/cert", restServer.addCertificateSigningRequest).Methods(http.MethodPost)
	privateRouter.HandleFunc("/server_cert", restServer.createServerCert).Methods(http.MethodPost)
	privateRouter.HandleFunc("/cert/{id}", restServer.issueCertificate).Methods(http.MethodPost)
	privateRouter.HandleFunc("/cert/{id}/reject", restServer.rejectCertificateSigningRequest).Methods(http.MethodPost)
	privateRouter.HandleFunc("/cert/{id}/bundle", restServer.exportServerBundle).Methods(http.MethodGet)
	registerPublicEndpoints(privateRouter)

	publicRouter := mux.NewRouter()
	publicRouter.Use(Log, ExtractRequester)
	registerPublicEndpoints(publicRouter)

	if privateAddress != "" {
		restServer.privateHttpServer = &http.Server{
			Addr:    privateAddress,
			Handler: privateRouter,
		}
	}
	if publicAddress != "" {
		restServer.publicHttpServer = &http.Server{
			Addr:    publicAddress,
			Handler: publicRouter,
		}
	}

	return restServer
}

func (s *RestServer) Run() error {
	if s.privateHttpServer == nil && s.publicHttpServer == nil {
		return errors.New("no server to run")
	}

	if s.publisher != nil {
		s.publisher.Start()
	}

	var privateServerErr error
	var publicServerErr error
	wg := sync.WaitGroup{}

	if s.privateHttpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.privateHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				privateServerErr = err
			}
		}()
	}
	if s.publicHttpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.publicHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				publicServerErr = err
			}
		}()
	}

	wg.Wait()
	if privateServerErr != nil {
		return privateServerErr
	}
	if publicServerErr != nil {
		return publicServerErr
	}
	return nil
}

func (s *RestServer) Close(ctx context.Context) error {
	var serverErr error
	mu := sync.Mutex{}
	wg := sync.WaitGroup{}
	shutdown := func(server *http.Server) {
		defer wg.Done()
		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			mu.Lock()
			serverErr = err
			mu.Unlock()
		}
	}

	if s.privateHttpServer != nil {
		wg.Add(1)
		go shutdown(s.privateHttpServer)
	}
	if s.publicHttpServer != nil {
		wg.Add(1)
		go shutdown(s.publicHttpServer)
	}

	wg.Wait()
	if s.publisher != nil {
		s.publisher.Stop()
	}
	return serverErr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pagination(r *http.Request) (int, int) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 10
	}
	return offset, limit
}

func statuses(r *http.Request) []model.CertStatus {
	var result []model.CertStatus
	for _, status := range r.URL.Query()["status"] {
		result = append(result, model.CertStatus(status))
	}
	return result
}

func (s *RestServer) listRootCert(w http.ResponseWriter, r *http.Request) {
	s.listCertByType(w, r, model.RootCert, "root certificates")
}

func (s *RestServer) getRootCert(w http.ResponseWriter, r *http.Request) {
	s.getCertByType(w, r, model.RootCert, "Root certificate")
}

func (s *RestServer) listCert(w http.ResponseWriter, r *http.Request) {
	s.listCertByType(w, r, model.ServerCert, "certificates")
}

func (s *RestServer) getCert(w http.ResponseWriter, r *http.Request) {
	s.getCertByType(w, r, model.ServerCert, "Certificate")
}

func (s *RestServer) listCertByType(w http.ResponseWriter, r *http.Request, certType model.CertType, what string) {
	ctx := r.Context()

	offset, limit := pagination(r)
	validAt, _ := strconv.ParseInt(r.URL.Query().Get("valid_at"), 10, 64)
	req := storage.ListCertificatesRequest{
		Offset:        offset,
		Limit:         limit,
		Types:         []model.CertType{certType},
		Statuses:      statuses(r),
		IssuerCertIDs: r.URL.Query()["issuer"],
		ValidAt:       validAt,
	}

	result, err := s.ca.ListCertificate(ctx, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list %s: %s", what, err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *RestServer) getCertByType(w http.ResponseWriter, r *http.Request, certType model.CertType, what string) {
	ctx := r.Context()
	certID := mux.Vars(r)["id"]

	req := storage.ListCertificatesRequest{
		Limit: 1,
		IDs:   []string{certID},
		Types: []model.CertType{certType},
	}

	result, err := s.ca.ListCertificate(ctx, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get %s: %s", certID, err.Error()), model.ErrToHttpStatus(err))
		return
	}

	if len(result.Certs) == 0 {
		http.Error(w, fmt.Sprintf("%s not found: %s", what, certID), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, result.Certs[0])
}

func (s *RestServer) verifyCert(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	certID := mux.Vars(r)["id"]

	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: at must be a unix time: %s", at), http.StatusBadRequest)
			return
		}
		ts = parsed
	}

	req := cert_authority.VerifyCertificateRequest{
		CertID:   certID,
		Hostname: r.URL.Query().Get("hostname"),
	}

	result, err := s.ca.VerifyCertificate(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to verify certificate: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *RestServer) createRootCert(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)

	req := cert_authority.CreateRootCertificateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
		return
	}
	req.Requester = requester

	cert, err := s.ca.CreateRootCertificate(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create root certificate: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, cert)
}

func (s *RestServer) addCertificateSigningRequest(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)

	req := cert_authority.AddCertificateSigningRequestRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
		return
	}
	req.Requester = requester

	cert, err := s.ca.AddCertificateSigningRequest(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to add CSR: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, cert)
}

func (s *RestServer) createServerCert(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)

	req := cert_authority.CreateServerCertificateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
		return
	}
	req.Requester = requester

	cert, err := s.ca.CreateServerCertificate(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create server certificate: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, cert)
}

func (s *RestServer) issueCertificate(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)
	certID := mux.Vars(r)["id"]

	req := cert_authority.IssueCertificateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
		return
	}
	req.Requester = requester
	req.CertID = certID

	cert, err := s.ca.IssueCertificate(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to issue certificate: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, cert)
}

func (s *RestServer) rejectCertificateSigningRequest(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)
	certID := mux.Vars(r)["id"]

	req := cert_authority.RejectCertificateSigningRequestRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
		return
	}
	req.Requester = requester
	req.CertID = certID

	cert, err := s.ca.RejectCertificateSigningRequest(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to reject CSR: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, cert)
}

func (s *RestServer) exportServerBundle(w http.ResponseWriter, r *http.Request) {
	ts := time.Now().Unix()
	ctx := r.Context()
	requester := ctx.Value(REQUESTER_CONTEXT_KEY).(string)
	certID := mux.Vars(r)["id"]

	req := cert_authority.ExportServerBundleRequest{
		Requester:  requester,
		CertID:     certID,
		Passphrase: r.Header.Get(BUNDLE_PASSPHRASE_HEADER),
	}

	bundle, err := s.ca.ExportServerBundle(ctx, ts, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to export bundle: %s", err.Error()), model.ErrToHttpStatus(err))
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, bundle)
}
