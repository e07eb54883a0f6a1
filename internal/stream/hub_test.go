package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/oiltrading/riskengine/internal/domain"
)

func snapshotFor(id string) *domain.RiskResult {
	return &domain.RiskResult{
		CalculationID:       id,
		CalculationDate:     time.Now().UTC(),
		Method:              domain.MethodFull,
		TotalPortfolioValue: 8_550_000,
		PositionCount:       2,
	}
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.PublishSnapshot(snapshotFor("calc-1"))

	select {
	case payload := <-ch:
		var envelope map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &envelope))
		assert.Equal(t, "snapshot", envelope["type"])
		data := envelope["data"].(map[string]interface{})
		assert.Equal(t, "calc-1", data["calculationId"])
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	ch := hub.Subscribe()
	hub.Unsubscribe(ch)
	assert.Equal(t, 0, hub.SubscriberCount())

	hub.PublishSnapshot(snapshotFor("calc-1"))
	assert.Empty(t, ch)
}

func TestHub_FullSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			hub.PublishSnapshot(snapshotFor("calc"))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_ServeHTTP_StreamsSnapshots(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First frame is the connection greeting.
	_, payload, err := conn.Read(ctx)
	require.NoError(t, err)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	require.Equal(t, "connected", envelope["type"])

	// The subscriber registers before the greeting is written, so this
	// publish cannot race the subscription.
	hub.PublishSnapshot(snapshotFor("calc-7"))

	_, payload, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, "snapshot", envelope["type"])
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "calc-7", data["calculationId"])
}
