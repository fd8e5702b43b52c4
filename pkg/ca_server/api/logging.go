package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ResponseInterceptor records the status of a response. The body is kept only for
// unsuccessful responses, which never carry key material.
type ResponseInterceptor struct {
	writer http.ResponseWriter
	Status int
	Body   []byte
}

func NewResponseInterceptor(w http.ResponseWriter) *ResponseInterceptor {
	return &ResponseInterceptor{writer: w, Status: http.StatusOK}
}

func (r *ResponseInterceptor) WriteHeader(status int) {
	r.Status = status
	r.writer.WriteHeader(status)
}

func (r *ResponseInterceptor) Write(b []byte) (int, error) {
	if r.Status/100 != 2 {
		r.Body = append(r.Body, b...)
	}
	return r.writer.Write(b)
}

func (r *ResponseInterceptor) Header() http.Header {
	return r.writer.Header()
}

func (r *ResponseInterceptor) Returned() string {
	if len(r.Body) > 0 {
		return fmt.Sprintf("%d %s", r.Status, strings.TrimSpace(string(r.Body)))
	}

	return fmt.Sprintf("%d", r.Status)
}

func (r *ResponseInterceptor) IsSystemError() bool {
	return r.Status/100 == 5
}

func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		interceptor := NewResponseInterceptor(w)
		w = interceptor
		logger := logrus.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"requester": r.Header.Get(REQUESTER_HEADER),
		})
		logger.Debug("Request started.")
		next.ServeHTTP(w, r)
		logger = logger.WithField("elapsed", time.Since(start).String())
		if interceptor.IsSystemError() {
			logger.Errorf("Request returned %s", interceptor.Returned())
		} else {
			logger.Debugf("Request returned %s", interceptor.Returned())
		}
	})
}
