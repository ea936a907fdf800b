package httpx_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/platform/httpx"
)

func TestRespondErrorMapsWrappedSentinels(t *testing.T) {
	errMissing := errors.New("row not found")
	mappings := []httpx.ErrorMapping{
		{Err: errMissing, Status: http.StatusNotFound, Title: "Not Found"},
	}

	rec := httptest.NewRecorder()
	matched := httpx.RespondError(rec, fmt.Errorf("load grant: %w", errMissing), mappings)

	require.True(t, matched)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Not Found")
	require.Contains(t, rec.Body.String(), "load grant")
}

func TestRespondErrorPicksFirstMatch(t *testing.T) {
	errConflict := errors.New("duplicate")
	mappings := []httpx.ErrorMapping{
		{Err: errors.New("unrelated"), Status: http.StatusNotFound, Title: "Not Found"},
		{Err: errConflict, Status: http.StatusConflict, Title: "Duplicate"},
	}

	rec := httptest.NewRecorder()
	matched := httpx.RespondError(rec, errConflict, mappings)

	require.True(t, matched)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondErrorUnmappedStaysOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	matched := httpx.RespondError(rec, errors.New("pool exhausted: host 10.1.2.3"), nil)

	require.False(t, matched)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.1.2.3")
}
