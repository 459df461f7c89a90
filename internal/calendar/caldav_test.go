package calendar

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/emersion/go-webdav"
	"github.com/stretchr/testify/assert"
)

func TestClassifyCalDAVErr(t *testing.T) {
	unauthorized := webdav.HTTPErrorf(http.StatusUnauthorized, "authentication required")
	assert.ErrorIs(t, classifyCalDAVErr(fmt.Errorf("query calendar /cal/: %w", unauthorized)), errAuth)

	forbidden := webdav.HTTPErrorf(http.StatusForbidden, "access denied")
	assert.ErrorIs(t, classifyCalDAVErr(forbidden), errAuth)

	server := webdav.HTTPErrorf(http.StatusInternalServerError, "boom")
	assert.NotErrorIs(t, classifyCalDAVErr(server), errAuth)

	plain := fmt.Errorf("connection refused")
	assert.NotErrorIs(t, classifyCalDAVErr(plain), errAuth)
}
