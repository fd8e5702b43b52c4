package pkix

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
)

// SerialAllocator hands out certificate serial numbers for one issuer. Implementations are
// safe for concurrent use and never return the same serial twice.
type SerialAllocator interface {
	Next() (*big.Int, error)
}

const randomSerialBits = 127

// RandomSerialAllocator draws positive 127-bit serial numbers. Draws already handed out are
// remembered so a collision is redrawn instead of reused, which means its memory grows by one
// entry per serial for the life of the allocator. It suits issuers that sign a bounded number of
// certificates; a long-lived issuer should use a CounterSerialAllocator backed by storage.
type RandomSerialAllocator struct {
	entropy io.Reader

	mtx  sync.Mutex
	seen map[string]struct{}
}

func NewRandomSerialAllocator(entropy io.Reader) *RandomSerialAllocator {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &RandomSerialAllocator{entropy: entropy, seen: make(map[string]struct{})}
}

func (a *RandomSerialAllocator) Next() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), randomSerialBits)

	a.mtx.Lock()
	defer a.mtx.Unlock()
	for {
		serial, err := rand.Int(a.entropy, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrEntropyUnavailable, err.Error())
		}
		if serial.Sign() == 0 {
			continue
		}
		key := string(serial.Bytes())
		if _, ok := a.seen[key]; ok {
			continue
		}
		a.seen[key] = struct{}{}
		return serial, nil
	}
}

// Len returns the number of serials handed out and remembered so far.
func (a *RandomSerialAllocator) Len() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.seen)
}

// CounterSerialAllocator hands out consecutive serial numbers after a starting value, e.g. the
// last serial persisted for the issuer.
type CounterSerialAllocator struct {
	last atomic.Uint64
}

func NewCounterSerialAllocator(last uint64) *CounterSerialAllocator {
	a := &CounterSerialAllocator{}
	a.last.Store(last)
	return a
}

func (a *CounterSerialAllocator) Next() (*big.Int, error) {
	next := a.last.Add(1)
	if next == 0 {
		return nil, fmt.Errorf("%w: serial number counter exhausted", ErrInvalidParameter)
	}
	return new(big.Int).SetUint64(next), nil
}

// Last returns the most recently allocated serial number.
func (a *CounterSerialAllocator) Last() uint64 {
	return a.last.Load()
}
