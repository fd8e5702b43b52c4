package pkix_test

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/openebl/localca/pkg/pkix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drawConcurrently(t *testing.T, allocator pkix.SerialAllocator, workers, perWorker int) map[string]struct{} {
	results := make([][]*big.Int, workers)
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			serials := make([]*big.Int, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				serial, err := allocator.Next()
				if err != nil {
					t.Error(err)
					return
				}
				serials = append(serials, serial)
			}
			results[w] = serials
		}(w)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers*perWorker)
	for _, serials := range results {
		for _, serial := range serials {
			assert.Equal(t, 1, serial.Sign())
			seen[serial.String()] = struct{}{}
		}
	}
	return seen
}

func TestRandomSerialAllocator(t *testing.T) {
	allocator := pkix.NewRandomSerialAllocator(nil)
	assert.Equal(t, 0, allocator.Len())
	seen := drawConcurrently(t, allocator, 100, 1000)
	assert.Len(t, seen, 100000)
	assert.Equal(t, 100000, allocator.Len())

	serial, err := allocator.Next()
	require.NoError(t, err)
	assert.LessOrEqual(t, serial.BitLen(), 127)
	assert.Equal(t, 100001, allocator.Len())

	_, err = pkix.NewRandomSerialAllocator(failingReader{}).Next()
	assert.ErrorIs(t, err, pkix.ErrEntropyUnavailable)
}

func TestCounterSerialAllocator(t *testing.T) {
	allocator := pkix.NewCounterSerialAllocator(41)
	serial, err := allocator.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(42), serial.Int64())

	seen := drawConcurrently(t, allocator, 100, 1000)
	assert.Len(t, seen, 100000)
	assert.Equal(t, uint64(100042), allocator.Last())
}

func TestSignConcurrently(t *testing.T) {
	policy := pkix.DefaultPolicy()
	rootKey, err := pkix.CreatePrivateKey(pkix.PrivateKeyOption{KeyType: pkix.PrivateKeyTypeECDSA, CurveType: pkix.ECDSACurveTypeP256})
	require.NoError(t, err)
	root, err := pkix.IssueRootCertificate(rootKey, pkix.Subject{CommonName: "Concurrent Root"}, pkix.NewValidity(time.Now(), 24*time.Hour), policy, nil)
	require.NoError(t, err)
	issuer, err := pkix.NewIssuer(rootKey, root, pkix.NewCounterSerialAllocator(0))
	require.NoError(t, err)

	leafKey, err := pkix.CreatePrivateKey(pkix.PrivateKeyOption{KeyType: pkix.PrivateKeyTypeECDSA, CurveType: pkix.ECDSACurveTypeP256})
	require.NoError(t, err)
	csr, err := pkix.CreateCertificateSigningRequest(leafKey, pkix.Subject{CommonName: "leaf"}, []pkix.SANEntry{pkix.DNSName("leaf.local")})
	require.NoError(t, err)

	const n = 200
	serials := make(chan string, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			leaf, err := issuer.Sign(csr, policy, pkix.NewValidity(time.Now(), time.Hour))
			if err != nil {
				t.Error(err)
				return
			}
			if !pkix.VerifyChain(leaf, root, pkix.VerifyOptions{}).Valid {
				t.Error("issued leaf does not chain to its root")
			}
			serials <- leaf.SerialNumber.String()
		}()
	}
	wg.Wait()
	close(serials)

	seen := map[string]struct{}{}
	for serial := range serials {
		seen[serial] = struct{}{}
	}
	assert.Len(t, seen, n)
}
