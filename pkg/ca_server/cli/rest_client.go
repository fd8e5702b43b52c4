package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/goccy/go-json"
	"github.com/openebl/localca/pkg/ca_server/api"
	"github.com/openebl/localca/pkg/ca_server/cert_authority"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
)

type RestClient struct {
	requester string
	server    string // http://server/
	attempts  uint
}

// httpStatusError is returned for non 2xx responses. Such responses are never retried.
type httpStatusError struct {
	status  int
	message string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("request failed with status %d, message: %s", e.status, e.message)
}

func NewRestClient(server, requester string) *RestClient {
	return &RestClient{
		requester: requester,
		server:    server,
		attempts:  3,
	}
}

func (r *RestClient) ListRootCert(offset, limit int) (storage.ListCertificatesResponse, error) {
	path := fmt.Sprintf("/root_cert?offset=%d&limit=%d", offset, limit)
	certs := storage.ListCertificatesResponse{}
	if err := r.execute(http.MethodGet, path, nil, nil, &certs); err != nil {
		return storage.ListCertificatesResponse{}, err
	}
	return certs, nil
}

func (r *RestClient) GetRootCert(certID string) (model.Cert, error) {
	path := fmt.Sprintf("/root_cert/%s", url.PathEscape(certID))
	cert := model.Cert{}
	if err := r.execute(http.MethodGet, path, nil, nil, &cert); err != nil {
		return model.Cert{}, err
	}
	return cert, nil
}

func (r *RestClient) ListCert(offset, limit int, statuses ...model.CertStatus) (storage.ListCertificatesResponse, error) {
	query := url.Values{}
	query.Set("offset", fmt.Sprintf("%d", offset))
	query.Set("limit", fmt.Sprintf("%d", limit))
	for _, status := range statuses {
		query.Add("status", string(status))
	}
	certs := storage.ListCertificatesResponse{}
	if err := r.execute(http.MethodGet, "/cert?"+query.Encode(), nil, nil, &certs); err != nil {
		return storage.ListCertificatesResponse{}, err
	}
	return certs, nil
}

func (r *RestClient) GetCert(certID string) (model.Cert, error) {
	path := fmt.Sprintf("/cert/%s", url.PathEscape(certID))
	cert := model.Cert{}
	if err := r.execute(http.MethodGet, path, nil, nil, &cert); err != nil {
		return model.Cert{}, err
	}
	return cert, nil
}

func (r *RestClient) CreateRootCert(req cert_authority.CreateRootCertificateRequest) (model.Cert, error) {
	returnedCert := model.Cert{}
	if err := r.execute(http.MethodPost, "/root_cert", req, nil, &returnedCert); err != nil {
		return model.Cert{}, err
	}
	return returnedCert, nil
}

func (r *RestClient) AddCert(csr string) (model.Cert, error) {
	req := cert_authority.AddCertificateSigningRequestRequest{
		CertSigningRequest: csr,
	}

	returnedCert := model.Cert{}
	if err := r.execute(http.MethodPost, "/cert", req, nil, &returnedCert); err != nil {
		return model.Cert{}, err
	}
	return returnedCert, nil
}

func (r *RestClient) CreateServerCert(req cert_authority.CreateServerCertificateRequest) (model.Cert, error) {
	returnedCert := model.Cert{}
	if err := r.execute(http.MethodPost, "/server_cert", req, nil, &returnedCert); err != nil {
		return model.Cert{}, err
	}
	return returnedCert, nil
}

func (r *RestClient) IssueCert(certID, rootCertID string, notBefore, notAfter time.Time) (model.Cert, error) {
	path := fmt.Sprintf("/cert/%s", url.PathEscape(certID))
	req := cert_authority.IssueCertificateRequest{
		RootCertID: rootCertID,
	}
	if !notBefore.IsZero() {
		req.NotBefore = notBefore.Unix()
	}
	if !notAfter.IsZero() {
		req.NotAfter = notAfter.Unix()
	}

	returnedCert := model.Cert{}
	if err := r.execute(http.MethodPost, path, req, nil, &returnedCert); err != nil {
		return model.Cert{}, err
	}
	return returnedCert, nil
}

func (r *RestClient) RejectCert(certID string, reason string) (model.Cert, error) {
	path := fmt.Sprintf("/cert/%s/reject", url.PathEscape(certID))
	req := cert_authority.RejectCertificateSigningRequestRequest{
		Reason: reason,
	}

	returnedCert := model.Cert{}
	if err := r.execute(http.MethodPost, path, req, nil, &returnedCert); err != nil {
		return model.Cert{}, err
	}
	return returnedCert, nil
}

func (r *RestClient) VerifyCert(certID, hostname string) (pkix.VerificationResult, error) {
	path := fmt.Sprintf("/cert/%s/verify", url.PathEscape(certID))
	if hostname != "" {
		path += "?hostname=" + url.QueryEscape(hostname)
	}

	result := pkix.VerificationResult{}
	if err := r.execute(http.MethodGet, path, nil, nil, &result); err != nil {
		return pkix.VerificationResult{}, err
	}
	return result, nil
}

func (r *RestClient) ExportBundle(certID, passphrase string) (model.Bundle, error) {
	path := fmt.Sprintf("/cert/%s/bundle", url.PathEscape(certID))
	headers := map[string]string{}
	if passphrase != "" {
		headers[api.BUNDLE_PASSPHRASE_HEADER] = passphrase
	}

	bundle := model.Bundle{}
	if err := r.execute(http.MethodGet, path, nil, headers, &bundle); err != nil {
		return model.Bundle{}, err
	}
	return bundle, nil
}

// execute sends the request and decodes the JSON response into result.
// Reads are retried on transport errors; writes are sent once.
func (r *RestClient) execute(method, path string, body any, headers map[string]string, result any) error {
	attempts := uint(1)
	if method == http.MethodGet {
		attempts = max(r.attempts, 1)
	}

	return retry.Do(
		func() error {
			return r.do(method, path, body, headers, result)
		},
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var statusErr *httpStatusError
			return !errors.As(err, &statusErr)
		}),
	)
}

func (r *RestClient) do(method, path string, body any, headers map[string]string, result any) error {
	var reader io.Reader
	if body != nil {
		reader = util.StructToJSONReader(body)
	}

	endPoint := r.server + path
	req, err := http.NewRequest(method, endPoint, reader)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set(api.REQUESTER_HEADER, r.requester)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status/100 != 2 {
		message, _ := io.ReadAll(resp.Body)
		return &httpStatusError{status: status, message: string(message)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return retry.Unrecoverable(err)
	}
	return nil
}
