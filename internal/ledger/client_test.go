package ledger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/puffperksonline/puffperks/internal/ledger"
	"github.com/puffperksonline/puffperks/internal/logger"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error) {
	return "test-token", nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*ledger.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := ledger.NewClient(server.URL, 5*time.Second, staticTokens{}, logger.NewLogger())
	return client, server
}

func TestAddStampSendsFunctionRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success": true}`))
	})

	err := client.AddStamp(context.Background(), "card-1", "store-1", false)
	assert.NoError(t, err)
	assert.Equal(t, "/add-stamp-manually", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "card-1", gotBody["loyalty_card_id"])
	assert.Equal(t, "store-1", gotBody["storeId"])
	// undo is omitted when false
	_, hasUndo := gotBody["undo"]
	assert.False(t, hasUndo)
}

func TestUndoFlagIsForwarded(t *testing.T) {
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	err := client.RedeemReward(context.Background(), "card-1", "reward-9", true)
	assert.NoError(t, err)
	assert.Equal(t, "reward-9", gotBody["reward_id"])
	assert.Equal(t, true, gotBody["undo"])
}

func TestErrorEnvelopeIsSurfacedVerbatim(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Customer has no stamps to remove."}`))
	})

	err := client.AddStamp(context.Background(), "card-1", "store-1", true)
	assert.Error(t, err)
	assert.True(t, ledger.IsRemote(err))
	assert.Equal(t, "Customer has no stamps to remove.", err.Error())
}

func TestEnvelopeWinsOverStatusCode(t *testing.T) {
	// Some functions report rejections with a 200 body; the envelope still
	// counts as an error.
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error": "Reward requirements not met."}`))
	})

	err := client.RedeemReward(context.Background(), "card-1", "reward-9", false)
	assert.Error(t, err)
	assert.Equal(t, "Reward requirements not met.", err.Error())
}

func TestNonSuccessWithoutEnvelopeYieldsGenericRemoteError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.AddStamp(context.Background(), "card-1", "store-1", false)
	assert.Error(t, err)
	assert.True(t, ledger.IsRemote(err))
	assert.Contains(t, err.Error(), "status 502")
}

func TestFetchAnalyticsDecodesSnapshot(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get-analytics", r.URL.Path)
		w.Write([]byte(`{
			"total_customers": {"value": 42, "change": 5},
			"stamps_issued": {"value": 310, "change": -2},
			"is_live": true
		}`))
	})

	snapshot, err := client.FetchAnalytics(context.Background(), "store-1")
	assert.NoError(t, err)
	assert.Equal(t, float64(42), snapshot.TotalCustomers.Value)
	assert.Equal(t, float64(-2), snapshot.StampsIssued.Change)
	assert.True(t, snapshot.IsLive)
}

func TestFetchCustomerSegments(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get-customer-segments", r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "store-1", body["store_id"])

		w.Write([]byte(`{"segments": {"new": 3, "loyal": 7, "vips": 2, "at_risk": 1}}`))
	})

	segments, err := client.FetchCustomerSegments(context.Background(), "store-1")
	assert.NoError(t, err)
	assert.Equal(t, 7, segments.Segments.Loyal)
	assert.Equal(t, 1, segments.Segments.AtRisk)
}
