package uplink_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoflow/internal/domain"
	"photoflow/internal/uplink"
)

func TestDeliverPostsBatch(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := uplink.NewClient(srv.URL, time.Second)
	batch := []domain.Action{
		{ID: "act_1", Type: domain.TypeTag, Status: domain.StatusSynced, Payload: json.RawMessage(`{"p":1}`)},
		{ID: "act_2", Type: domain.TypeExport, Status: domain.StatusSynced},
	}

	require.NoError(t, c.Deliver(context.Background(), batch))
	assert.Equal(t, "application/json", gotContentType)

	var req struct {
		Actions []domain.Action `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.Len(t, req.Actions, 2)
	assert.Equal(t, "act_1", req.Actions[0].ID)
	assert.JSONEq(t, `{"p":1}`, string(req.Actions[0].Payload))
}

func TestDeliverRejectedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	c := uplink.NewClient(srv.URL, time.Second)
	err := c.Deliver(context.Background(), []domain.Action{{ID: "act_1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestDeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := uplink.NewClient(srv.URL, time.Second)
	err := c.Deliver(context.Background(), []domain.Action{{ID: "act_1"}})
	assert.Error(t, err)
}

func TestDeliverHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request body must be drained before the server notices the
		// client going away.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := uplink.NewClient(srv.URL, time.Minute)
	err := c.Deliver(ctx, []domain.Action{{ID: "act_1"}})
	assert.Error(t, err)
}
