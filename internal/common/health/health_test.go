package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiChecker(t *testing.T) {
	ok := CheckerFunc(func() error { return nil })
	storeDown := CheckerFunc(func() error { return errors.New("store unreachable") })
	queueDown := CheckerFunc(func() error { return errors.New("queue unreachable") })

	assert.NoError(t, NewMultiChecker().Check())
	assert.NoError(t, NewMultiChecker(ok, ok).Check())

	mc := NewMultiChecker(ok, storeDown)
	mc.Add(queueDown)
	err := mc.Check()
	assert.ErrorContains(t, err, "store unreachable")
	assert.ErrorContains(t, err, "queue unreachable")
}

func TestNamed(t *testing.T) {
	assert.NoError(t, Named("job store", CheckerFunc(func() error { return nil })).Check())
	err := Named("job store", CheckerFunc(func() error { return errors.New("connection refused") })).Check()
	assert.EqualError(t, err, "job store: connection refused")
}

func TestHealthCheckHttpHandler(t *testing.T) {
	healthy := true
	handler := NewHealthCheckHttpHandler(CheckerFunc(func() error {
		if healthy {
			return nil
		}
		return errors.New("store unreachable")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"failures":["store unreachable"]}`, rec.Body.String())
}

func TestHealthCheckHttpHandler_ListsEachFailure(t *testing.T) {
	handler := NewHealthCheckHttpHandler(NewMultiChecker(
		CheckerFunc(func() error { return errors.New("store unreachable") }),
		CheckerFunc(func() error { return nil }),
		CheckerFunc(func() error { return errors.New("queue unreachable") }),
	))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"failures":["store unreachable","queue unreachable"]}`, rec.Body.String())
}
