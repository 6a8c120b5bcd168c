package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	before := testutil.ToFloat64(LedgerOpsTotal.WithLabelValues("open", "ok"))
	LedgerOpsTotal.WithLabelValues("open", Result(nil)).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerOpsTotal.WithLabelValues("open", "ok")))
	assert.Equal(t, "error", Result(errors.New("x")))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "signalengine_ledger_ops_total"))
}
