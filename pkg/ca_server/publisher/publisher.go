package publisher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/util"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type PublisherOption func(*Publisher)

func PublisherWithBatchSize(batchSize int) PublisherOption {
	return func(p *Publisher) {
		p.batchSize = batchSize
	}
}

func PublisherWithInterval(interval time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.interval = interval
	}
}

func PublisherWithCertStorage(certStorage storage.CertStorage) PublisherOption {
	return func(p *Publisher) {
		p.certStorage = certStorage
	}
}

// PublisherWithBundlePath sets the file the trust bundle is written to.
func PublisherWithBundlePath(path string) PublisherOption {
	return func(p *Publisher) {
		p.bundlePath = path
	}
}

// Publisher keeps a PEM trust bundle of every active, unexpired root certificate up to date
// on disk. Installers of the OS or browser trust stores consume that file.
type Publisher struct {
	stopChan chan struct{}
	wg       sync.WaitGroup

	batchSize   int
	interval    time.Duration
	certStorage storage.CertStorage
	bundlePath  string

	mtx       sync.Mutex
	published []byte
}

func NewPublisher(options ...PublisherOption) *Publisher {
	p := &Publisher{
		stopChan:  make(chan struct{}),
		batchSize: 10,
		interval:  30 * time.Second,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *Publisher) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Publisher) loop() {
	logrus.Info("Publisher loop started")
	defer p.wg.Done()
	defer logrus.Info("Publisher loop stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	skipTicker := true

	for {
		if skipTicker {
			select {
			case <-p.stopChan:
				return
			default:
				skipTicker = p.worker()
			}
		} else {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				skipTicker = p.worker()
			}
		}
	}
}

func (p *Publisher) worker() bool {
	if _, err := p.Publish(context.Background(), time.Now().Unix()); err != nil {
		logrus.Errorf("Publisher: Failed to publish trust bundle: %v", err)
	}
	return false
}

// Publish writes the trust bundle when its content changed since the last write.
// It returns whether the file was written.
func (p *Publisher) Publish(ctx context.Context, ts int64) (bool, error) {
	if p.bundlePath == "" {
		return false, errors.New("no bundle path")
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	bundle, err := p.Bundle(ctx, ts)
	if err != nil {
		return false, err
	}
	if p.published != nil && bytes.Equal(bundle, p.published) {
		if _, err := os.Stat(p.bundlePath); err == nil {
			return false, nil
		}
	}

	if err := util.AtomicWriteFile(p.bundlePath, bundle, util.PublicFileMode); err != nil {
		return false, err
	}
	p.published = bundle
	logrus.Infof("Publisher: Trust bundle written to %s", p.bundlePath)
	return true, nil
}

// Bundle concatenates the PEM certificates of the root certificates valid at ts. A root is
// valid from its notBefore through its notAfter, both included.
func (p *Publisher) Bundle(ctx context.Context, ts int64) ([]byte, error) {
	tx, ctx, err := p.certStorage.CreateTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var roots []model.Cert
	req := storage.ListCertificatesRequest{
		Limit:    p.batchSize,
		Types:    []model.CertType{model.RootCert},
		Statuses: []model.CertStatus{model.CertStatusActive},
		ValidAt:  ts,
	}
	for {
		resp, err := p.certStorage.ListCertificates(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resp.Certs...)
		req.Offset += len(resp.Certs)
		if len(resp.Certs) == 0 || int64(req.Offset) >= resp.Total {
			break
		}
	}

	roots = lo.Filter(roots, func(cert model.Cert, _ int) bool {
		return cert.NotBefore <= ts && ts <= cert.NotAfter
	})
	pems := lo.Map(roots, func(cert model.Cert, _ int) string {
		return strings.TrimSpace(cert.Certificate) + "\n"
	})
	return []byte(strings.Join(pems, "")), nil
}
