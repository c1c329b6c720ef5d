package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	"github.com/marshalcore/backend/internal/infrastructure/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firstTransferFault int

const (
	faultNone firstTransferFault = iota
	// the transfer executes and the connection is closed before the reply
	faultDropAfterExecute
	// a proxy answers 502 with an HTML page and the transfer never executes
	faultProxyBadGateway
)

// fakePaystack executes each transfer reference it receives. The first
// transfer can be given a fault.
type fakePaystack struct {
	mu       sync.Mutex
	executed map[string]int
	first    firstTransferFault
}

func (f *fakePaystack) executions() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.executed))
	for k, v := range f.executed {
		out[k] = v
	}
	return out
}

func (f *fakePaystack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/transferrecipient":
		writeEnvelope(w, http.StatusCreated, true, map[string]any{"recipient_code": "RCP_live", "active": true})

	case r.Method == http.MethodPost && r.URL.Path == "/transfer":
		var body struct {
			Reference string `json:"reference"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		fault := f.first
		f.first = faultNone
		if fault != faultProxyBadGateway {
			f.executed[body.Reference]++
		}
		f.mu.Unlock()

		switch fault {
		case faultDropAfterExecute:
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				_ = conn.Close()
			}
			return
		case faultProxyBadGateway:
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html><body><h1>502 Bad Gateway</h1></body></html>"))
			return
		}
		writeEnvelope(w, http.StatusOK, true, map[string]any{
			"reference":     body.Reference,
			"transfer_code": "TRF_" + body.Reference[:8],
			"status":        "success",
		})

	case strings.HasPrefix(r.URL.Path, "/transfer/verify/"):
		ref := strings.TrimPrefix(r.URL.Path, "/transfer/verify/")
		f.mu.Lock()
		n := f.executed[ref]
		f.mu.Unlock()
		if n == 0 {
			writeEnvelope(w, http.StatusNotFound, false, nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, map[string]any{
			"reference":     ref,
			"transfer_code": "TRF_" + ref[:8],
			"status":        "success",
		})

	default:
		http.NotFound(w, r)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": ok, "message": "ok", "data": data})
}

func newLiveFixture(t *testing.T, fault firstTransferFault) (*splitFixture, *fakePaystack) {
	t.Helper()
	fake := &fakePaystack{executed: map[string]int{}, first: fault}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := gateway.NewPaystackClient(&gateway.PaystackConfig{
		BaseURL:   server.URL,
		SecretKey: "sk_test_live",
		Timeout:   2 * time.Second,
	}, testDirectory())
	require.NoError(t, err)

	return newSplitFixture(t, func(c *Config) { c.Gateway = client }), fake
}

func TestSplitOrchestrator_ConnectionLostAfterDeliveryIsNotPaidTwice(t *testing.T) {
	f, fake := newLiveFixture(t, faultDropAfterExecute)
	f.seedPayment(t, "PSK_LIVE", 350000, 150000)
	ctx := context.Background()

	res, err := f.orchestrator.Process(ctx, "PSK_LIVE", 500000)
	require.NoError(t, err)
	assert.Equal(t, RunPartial, res.Status)
	require.Len(t, res.AwaitingReconciliation, 1)
	dropped := res.AwaitingReconciliation[0]
	assert.Empty(t, res.Failed)

	row := f.rows(t, "PSK_LIVE")[dropped]
	assert.Equal(t, transfer.StatusUnknown, row.Status)
	assert.Equal(t, 1, row.Attempt)

	res, err = f.retrier.RetryFailed(ctx, "PSK_LIVE", transfer.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.True(t, res.Processed)

	row = f.rows(t, "PSK_LIVE")[dropped]
	assert.Equal(t, transfer.StatusSuccess, row.Status)
	assert.Equal(t, 1, row.Attempt)
	assert.Equal(t, 0, row.RetryCount)

	execs := fake.executions()
	assert.Len(t, execs, 2)
	for key, n := range execs {
		assert.Equal(t, 1, n, "reference %s executed more than once", key)
	}
}

func TestSplitOrchestrator_HTMLBadGatewayIsRecorded(t *testing.T) {
	f, fake := newLiveFixture(t, faultProxyBadGateway)
	f.seedPayment(t, "PSK_502", 350000, 150000)
	ctx := context.Background()

	res, err := f.orchestrator.Process(ctx, "PSK_502", 500000)
	require.NoError(t, err)
	assert.Equal(t, RunPartial, res.Status)
	require.Len(t, res.AwaitingReconciliation, 1)
	assert.Empty(t, res.Failed)
	blocked := res.AwaitingReconciliation[0]
	for _, o := range res.Transfers {
		if o.RecipientType != blocked {
			assert.Equal(t, transfer.StatusSuccess, o.Status, "the other recipient is still paid")
		}
	}

	row := f.rows(t, "PSK_502")[blocked]
	assert.Equal(t, transfer.StatusUnknown, row.Status)
	assert.JSONEq(t, `{"raw":"<html><body><h1>502 Bad Gateway</h1></body></html>"}`, string(row.RawResponse))

	history, err := f.ledger.History(ctx, "PSK_502")
	require.NoError(t, err)
	var sent map[string]any
	for _, change := range history {
		if change.RecipientType == blocked && change.ToStatus == transfer.StatusUnknown {
			require.NoError(t, json.Unmarshal(change.Request, &sent))
		}
	}
	assert.Equal(t, "initiate", sent["operation"])
	assert.Equal(t, row.IdempotencyKey, sent["reference"])
	assert.EqualValues(t, row.Amount, sent["amount"])

	// the gateway never saw the key, so the retry re-issues it once
	res, err = f.retrier.RetryFailed(ctx, "PSK_502", transfer.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, 1, fake.executions()[row.IdempotencyKey])
}
