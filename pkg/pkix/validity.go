package pkix

import (
	"fmt"
	"time"
)

// Validity is the period in which a certificate is valid. Certificates carry times at second
// precision in UTC, so both ends are truncated to the second.
type Validity struct {
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

func NewValidity(notBefore time.Time, lifetime time.Duration) Validity {
	notBefore = notBefore.UTC().Truncate(time.Second)
	return Validity{NotBefore: notBefore, NotAfter: notBefore.Add(lifetime)}
}

func (v Validity) normalize() Validity {
	return Validity{
		NotBefore: v.NotBefore.UTC().Truncate(time.Second),
		NotAfter:  v.NotAfter.UTC().Truncate(time.Second),
	}
}

func (v Validity) Lifetime() time.Duration {
	return v.NotAfter.Sub(v.NotBefore)
}

// Validate returns ErrValidityRange unless NotAfter is strictly after NotBefore.
func (v Validity) Validate() error {
	if v.NotBefore.IsZero() || v.NotAfter.IsZero() {
		return fmt.Errorf("%w: not_before and not_after are required", ErrValidityRange)
	}
	if !v.NotAfter.After(v.NotBefore) {
		return fmt.Errorf("%w: not_after %s is not after not_before %s", ErrValidityRange,
			v.NotAfter.Format(time.RFC3339), v.NotBefore.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies in [NotBefore, NotAfter].
func (v Validity) Contains(t time.Time) bool {
	return !t.Before(v.NotBefore) && !t.After(v.NotAfter)
}

// ClampTo shrinks v so it lies within outer. A request that ends up with an empty lifetime
// fails with ErrValidityRange.
func (v Validity) ClampTo(outer Validity) (Validity, error) {
	clamped := v
	if clamped.NotAfter.After(outer.NotAfter) {
		clamped.NotAfter = outer.NotAfter
	}
	if clamped.NotBefore.Before(outer.NotBefore) {
		clamped.NotBefore = outer.NotBefore
	}
	if !clamped.NotAfter.After(clamped.NotBefore) {
		return Validity{}, fmt.Errorf("%w: lifetime is empty once limited to the issuer validity (%s to %s)", ErrValidityRange,
			outer.NotBefore.Format(time.RFC3339), outer.NotAfter.Format(time.RFC3339))
	}
	return clamped, nil
}

// limitLifetime moves NotAfter back so the lifetime is at most limit.
func (v Validity) limitLifetime(limit time.Duration) Validity {
	if v.Lifetime() > limit {
		v.NotAfter = v.NotBefore.Add(limit)
	}
	return v
}

func (v Validity) checkLifetime(max time.Duration, kind string) error {
	if v.Lifetime() > max {
		return fmt.Errorf("%w: %s lifetime %s exceeds the maximum %s", ErrValidityRange, kind, v.Lifetime(), max)
	}
	return nil
}
