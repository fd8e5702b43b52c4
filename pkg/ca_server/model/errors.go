package model

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openebl/localca/pkg/pkix"
)

var ErrInvalidParameter = errors.New("") // Base error for invalid parameter
var ErrWrongStatus = errors.New("")
var ErrDataNotFound = errors.New("") // Base error for data not found

var ErrCertNotFound = fmt.Errorf("certificate not found%w", ErrDataNotFound)
var ErrRootCertNotFound = fmt.Errorf("root certificate not found%w", ErrDataNotFound)
var ErrVersionConflict = fmt.Errorf("certificate was updated by another request%w", ErrWrongStatus)

var pkixInputErrors = []error{
	pkix.ErrInvalidParameter,
	pkix.ErrInvalidSubject,
	pkix.ErrInvalidSAN,
	pkix.ErrKeyMismatch,
	pkix.ErrProofOfPossession,
	pkix.ErrValidityRange,
	pkix.ErrWeakKey,
}

func ErrToHttpStatus(err error) int {
	if errors.Is(err, ErrInvalidParameter) {
		return http.StatusBadRequest
	} else if errors.Is(err, ErrDataNotFound) {
		return http.StatusNotFound
	} else if errors.Is(err, ErrWrongStatus) {
		return http.StatusConflict
	}
	for _, inputErr := range pkixInputErrors {
		if errors.Is(err, inputErr) {
			return http.StatusBadRequest
		}
	}

	return http.StatusInternalServerError
}
