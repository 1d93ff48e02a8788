package events

import (
	"fmt"
	"testing"

	"github.com/doculens/doculens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evt(agent string, status models.EventStatus) models.Event {
	return models.Event{ID: agent + "-" + string(status), Agent: agent, Status: status}
}

func collect(sub *Subscription) []models.Event {
	var out []models.Event
	for e := range sub.C {
		out = append(out, e)
	}
	return out
}

func TestPublish_DeliversInOrder(t *testing.T) {
	e := NewEmitter()
	sub := e.Subscribe("s1", false)

	e.Publish("s1", evt("summarizer", models.EventQueued))
	e.Publish("s1", evt("summarizer", models.EventProcessing))
	e.Publish("s1", evt("summarizer", models.EventComplete))
	e.Finish("s1")

	got := collect(sub)
	require.Len(t, got, 3)
	assert.Equal(t, models.EventQueued, got[0].Status)
	assert.Equal(t, models.EventProcessing, got[1].Status)
	assert.Equal(t, models.EventComplete, got[2].Status)
}

func TestPublish_MultipleSubscribers(t *testing.T) {
	e := NewEmitter()
	a := e.Subscribe("s1", false)
	b := e.Subscribe("s1", false)

	e.Publish("s1", evt("extractor", models.EventQueued))
	e.Finish("s1")

	assert.Len(t, collect(a), 1)
	assert.Len(t, collect(b), 1)
}

func TestSubscribe_MidRunSeesOnlyNewEvents(t *testing.T) {
	e := NewEmitter()
	e.Publish("s1", evt("summarizer", models.EventQueued))

	sub := e.Subscribe("s1", false)
	e.Publish("s1", evt("summarizer", models.EventProcessing))
	e.Finish("s1")

	got := collect(sub)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventProcessing, got[0].Status)
}

func TestSubscribe_ReplayDeliversBacklog(t *testing.T) {
	e := NewEmitter()
	e.Publish("s1", evt("summarizer", models.EventQueued))
	e.Publish("s1", evt("summarizer", models.EventProcessing))

	sub := e.Subscribe("s1", true)
	e.Publish("s1", evt("summarizer", models.EventComplete))
	e.Finish("s1")

	got := collect(sub)
	require.Len(t, got, 3)
	assert.Equal(t, models.EventQueued, got[0].Status)
	assert.Equal(t, models.EventComplete, got[2].Status)
}

func TestSubscribe_AfterFinishWithReplay(t *testing.T) {
	e := NewEmitter()
	e.Publish("s1", evt("extractor", models.EventComplete))
	e.Finish("s1")

	sub := e.Subscribe("s1", true)
	got := collect(sub) // channel already closed, must terminate
	require.Len(t, got, 1)
}

func TestPublish_SlowSubscriberNeverBlocks(t *testing.T) {
	e := NewEmitter()
	sub := e.Subscribe("s1", false)

	// Nobody reads; publishing far past the buffer must return promptly.
	for i := 0; i < subscriberBuffer*3; i++ {
		e.Publish("s1", models.Event{ID: fmt.Sprintf("e%d", i), Agent: "summarizer", Status: models.EventProcessing})
	}
	e.Finish("s1")

	got := collect(sub)
	assert.Len(t, got, subscriberBuffer, "overflow events are dropped for the slow subscriber")
	// The backlog still holds everything.
	assert.Len(t, e.Backlog("s1"), subscriberBuffer*3)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	e := NewEmitter()
	sub := e.Subscribe("s1", false)
	e.Unsubscribe(sub)

	e.Publish("s1", evt("summarizer", models.EventQueued))

	got := collect(sub)
	assert.Empty(t, got)
}

func TestPublish_AfterFinishIgnored(t *testing.T) {
	e := NewEmitter()
	e.Finish("s1")
	e.Publish("s1", evt("summarizer", models.EventQueued))

	assert.Empty(t, e.Backlog("s1"))
}

func TestForget_DropsBacklog(t *testing.T) {
	e := NewEmitter()
	e.Publish("s1", evt("summarizer", models.EventQueued))
	e.Finish("s1")
	e.Forget("s1")

	assert.Empty(t, e.Backlog("s1"))
}

func TestFinish_Idempotent(t *testing.T) {
	e := NewEmitter()
	e.Subscribe("s1", false)
	e.Finish("s1")
	e.Finish("s1") // must not panic on double close
}
