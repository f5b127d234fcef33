package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHub_DeliversToInterestedSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()

	subs, cancelSubs := hub.Subscribe("submissions")
	defer cancelSubs()
	all, cancelAll := hub.Subscribe()
	defer cancelAll()

	hub.Publish(NewEvent("campaign_budgets", OpInsert, "b1", nil))
	hub.Publish(NewEvent("submissions", OpUpdate, "s1", map[string]string{"id": "s1"}))

	ev := <-subs
	assert.Equal(t, "s1", ev.ID)
	assert.JSONEq(t, `{"id":"s1"}`, string(ev.Record))

	assert.Equal(t, "b1", (<-all).ID)
	assert.Equal(t, "s1", (<-all).ID)
}

func TestHub_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()

	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(NewEvent("submissions", OpInsert, "x", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_CloseEndsConsumers(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range ch {
		}
	}()

	hub.Close()
	wg.Wait()

	late, _ := hub.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

type row struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func decodeRow(b json.RawMessage) (row, error) {
	var r row
	err := json.Unmarshal(b, &r)
	return r, err
}

func rowID(r row) string { return r.ID }

func TestMerge(t *testing.T) {
	list := []row{{ID: "1", Status: "to_contact"}, {ID: "2", Status: "to_contact"}}

	list, err := Merge(list, NewEvent("submissions", OpUpdate, "2", row{ID: "2", Status: "contacted"}), rowID, decodeRow)
	require.NoError(t, err)
	assert.Equal(t, []row{{ID: "1", Status: "to_contact"}, {ID: "2", Status: "contacted"}}, list)

	list, err = Merge(list, NewEvent("submissions", OpInsert, "3", row{ID: "3"}), rowID, decodeRow)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "3", list[0].ID)

	list, err = Merge(list, NewEvent("submissions", OpDelete, "1", nil), rowID, decodeRow)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2"}, []string{list[0].ID, list[1].ID})

	list, err = Merge(list, NewEvent("submissions", OpDelete, "missing", nil), rowID, decodeRow)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMerge_IDOnlyEventLeavesListUntouched(t *testing.T) {
	list := []row{{ID: "1", Status: "a"}}
	out, err := Merge(list, Event{Table: "submissions", Type: OpUpdate, ID: "1"}, rowID, decodeRow)
	require.NoError(t, err)
	assert.Equal(t, list, out)
}

func TestDecodeNotification(t *testing.T) {
	ev, err := DecodeNotification(`{"table":"submissions_v2","type":"UPDATE","id":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, "submissions_v2", ev.Table)
	assert.Equal(t, OpUpdate, ev.Type)
	assert.Equal(t, "abc", ev.ID)
	assert.False(t, ev.At.IsZero())

	_, err = DecodeNotification(`{"id":"abc"}`)
	assert.Error(t, err)

	_, err = DecodeNotification(`not json`)
	assert.Error(t, err)
}
