package pkix

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/text/unicode/norm"
)

// Subject is a distinguished name with at most one value per attribute.
type Subject struct {
	Country            string `json:"country,omitempty"`
	State              string `json:"state,omitempty"`
	Locality           string `json:"locality,omitempty"`
	Organization       string `json:"organization,omitempty"`
	OrganizationalUnit string `json:"organizational_unit,omitempty"`
	CommonName         string `json:"common_name"`
}

// Upper bounds from RFC 5280 Appendix A.
const (
	ubCommonName         = 64
	ubOrganizationName   = 64
	ubOrganizationalUnit = 64
	ubLocalityName       = 128
	ubStateName          = 128
)

var encodableText = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return errors.New("must not contain control characters")
		}
	}
	return nil
})

// BuildSubject normalizes and validates the given fields. Values are trimmed and put in
// Unicode NFC form; the country code is upper-cased.
func BuildSubject(fields Subject) (Subject, error) {
	s := Subject{
		Country:            strings.ToUpper(normalizeText(fields.Country)),
		State:              normalizeText(fields.State),
		Locality:           normalizeText(fields.Locality),
		Organization:       normalizeText(fields.Organization),
		OrganizationalUnit: normalizeText(fields.OrganizationalUnit),
		CommonName:         normalizeText(fields.CommonName),
	}

	if err := validation.ValidateStruct(&s,
		validation.Field(&s.Country, is.CountryCode2),
		validation.Field(&s.State, encodableText, validation.RuneLength(0, ubStateName)),
		validation.Field(&s.Locality, encodableText, validation.RuneLength(0, ubLocalityName)),
		validation.Field(&s.Organization, encodableText, validation.RuneLength(0, ubOrganizationName)),
		validation.Field(&s.OrganizationalUnit, encodableText, validation.RuneLength(0, ubOrganizationalUnit)),
		validation.Field(&s.CommonName, validation.Required, encodableText, validation.RuneLength(1, ubCommonName)),
	); err != nil {
		return Subject{}, fmt.Errorf("%w: %s", ErrInvalidSubject, err.Error())
	}

	return s, nil
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Name converts the subject to its x509 form. Empty attributes are omitted.
func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.State != "" {
		name.Province = []string{s.State}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	return name
}

// SubjectFromName takes the first value of every attribute of name.
func SubjectFromName(name pkix.Name) Subject {
	first := func(values []string) string {
		if len(values) == 0 {
			return ""
		}
		return values[0]
	}
	return Subject{
		Country:            first(name.Country),
		State:              first(name.Province),
		Locality:           first(name.Locality),
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
		CommonName:         name.CommonName,
	}
}

func (s Subject) String() string {
	return s.Name().String()
}
