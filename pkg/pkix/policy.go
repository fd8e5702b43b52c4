package pkix

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/samber/lo"
)

const (
	MinimumRSABits = 2048

	DefaultRootLifetime = 3650 * 24 * time.Hour
	DefaultLeafLifetime = 825 * 24 * time.Hour // CA/Browser Forum upper bound for server certificates
)

// Policy is the issuance policy applied by the engine. There is no implicit fallback to a
// weaker setting: a zero Policy fails Validate, DefaultPolicy is the strict baseline.
type Policy struct {
	MinRSABits     int              // Minimum RSA modulus size. Never below MinimumRSABits.
	ApprovedCurves []ECDSACurveType // Curves allowed for ECDSA keys.

	MaxRootLifetime time.Duration // Upper bound of a root certificate lifetime.
	MaxLeafLifetime time.Duration // Upper bound of a leaf certificate lifetime.

	AllowedExtKeyUsages []ExtKeyUsage // Extended key usages a leaf may carry.
	LeafExtKeyUsages    []ExtKeyUsage // Extended key usages given to a leaf whose CSR asks for none.

	// RootMaxPathLen is encoded in the basic constraints of new roots.
	// -1 leaves the path length unconstrained, 0 restricts the root to signing leaves.
	RootMaxPathLen int
}

func DefaultPolicy() Policy {
	return Policy{
		MinRSABits:          MinimumRSABits,
		ApprovedCurves:      []ECDSACurveType{ECDSACurveTypeP256, ECDSACurveTypeP384, ECDSACurveTypeP521},
		MaxRootLifetime:     DefaultRootLifetime,
		MaxLeafLifetime:     DefaultLeafLifetime,
		AllowedExtKeyUsages: []ExtKeyUsage{ExtKeyUsageServerAuth, ExtKeyUsageClientAuth},
		LeafExtKeyUsages:    []ExtKeyUsage{ExtKeyUsageServerAuth},
		RootMaxPathLen:      0,
	}
}

func (p Policy) Validate() error {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.MinRSABits, validation.Required, validation.Min(MinimumRSABits)),
		validation.Field(&p.ApprovedCurves, validation.Required, validation.Each(validation.In(lo.ToAnySlice(supportedCurves)...))),
		validation.Field(&p.MaxRootLifetime, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&p.MaxLeafLifetime, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&p.AllowedExtKeyUsages, validation.Required, validation.Each(validation.In(lo.ToAnySlice(knownExtKeyUsages)...))),
		validation.Field(&p.LeafExtKeyUsages, validation.Required, validation.Each(validation.In(lo.ToAnySlice(p.AllowedExtKeyUsages)...))),
		validation.Field(&p.RootMaxPathLen, validation.Min(-1)),
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPolicy, err.Error())
	}
	if p.MaxLeafLifetime > p.MaxRootLifetime {
		return fmt.Errorf("%w: max leaf lifetime exceeds max root lifetime", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) curveApproved(curve ECDSACurveType) bool {
	return lo.Contains(p.ApprovedCurves, curve)
}

// PolicyConfig is the YAML form of Policy. Omitted fields take the DefaultPolicy value.
type PolicyConfig struct {
	MinRSABits          int      `yaml:"min_rsa_bits"`
	ApprovedCurves      []string `yaml:"approved_curves"`
	MaxRootLifetimeDays int      `yaml:"max_root_lifetime_days"`
	MaxLeafLifetimeDays int      `yaml:"max_leaf_lifetime_days"`
	AllowedExtKeyUsages []string `yaml:"allowed_ext_key_usages"`
	LeafExtKeyUsages    []string `yaml:"leaf_ext_key_usages"`
	RootMaxPathLen      *int     `yaml:"root_max_path_len"`
}

func (c PolicyConfig) Policy() (Policy, error) {
	p := DefaultPolicy()
	if c.MinRSABits != 0 {
		p.MinRSABits = c.MinRSABits
	}
	if len(c.ApprovedCurves) > 0 {
		p.ApprovedCurves = lo.Map(c.ApprovedCurves, func(s string, _ int) ECDSACurveType { return ECDSACurveType(s) })
	}
	if c.MaxRootLifetimeDays != 0 {
		p.MaxRootLifetime = time.Duration(c.MaxRootLifetimeDays) * 24 * time.Hour
	}
	if c.MaxLeafLifetimeDays != 0 {
		p.MaxLeafLifetime = time.Duration(c.MaxLeafLifetimeDays) * 24 * time.Hour
	}
	if len(c.AllowedExtKeyUsages) > 0 {
		p.AllowedExtKeyUsages = lo.Map(c.AllowedExtKeyUsages, func(s string, _ int) ExtKeyUsage { return ExtKeyUsage(s) })
	}
	if len(c.LeafExtKeyUsages) > 0 {
		p.LeafExtKeyUsages = lo.Map(c.LeafExtKeyUsages, func(s string, _ int) ExtKeyUsage { return ExtKeyUsage(s) })
	}
	if c.RootMaxPathLen != nil {
		p.RootMaxPathLen = *c.RootMaxPathLen
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
