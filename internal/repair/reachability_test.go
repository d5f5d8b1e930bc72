package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

func lifecycleOn(pageID string) *schema.TriggerBinding {
	return &schema.TriggerBinding{Kind: schema.TriggerKindLifecycle, PageID: pageID, Event: schema.LifecycleEventLoad}
}

func componentEvent(componentID, event string) *schema.TriggerBinding {
	return &schema.TriggerBinding{Kind: schema.TriggerKindComponentEvent, ComponentID: componentID, Event: event}
}

func stateWatch(key string) *schema.TriggerBinding {
	return &schema.TriggerBinding{Kind: schema.TriggerKindStateChange, StateKey: key}
}

func TestReachableLifecycleSeeds(t *testing.T) {
	m := &schema.Mutation{
		Pages: []schema.Page{{ID: "home"}},
		Actions: []schema.Action{
			{ID: "on_load", TriggeredBy: lifecycleOn("home")},
			{ID: "global_load", TriggeredBy: lifecycleOn("")},
			{ID: "ghost_page_load", TriggeredBy: lifecycleOn("no_such_page")},
			{ID: "untriggered"},
		},
	}

	got := Reachable(m)
	assert.True(t, got["on_load"])
	assert.True(t, got["global_load"])
	assert.False(t, got["ghost_page_load"])
	assert.False(t, got["untriggered"])
}

func TestReachableComponentEventSeeds(t *testing.T) {
	m := &schema.Mutation{
		Components: []schema.Component{{ID: "submit-button"}},
		Actions: []schema.Action{
			{ID: "on_click", TriggeredBy: componentEvent("Submit Button", "click")},
			{ID: "ghost_click", TriggeredBy: componentEvent("hallucinated", "click")},
		},
	}

	got := Reachable(m)
	assert.True(t, got["on_click"], "component id comparison is normalization-insensitive")
	assert.False(t, got["ghost_click"])
}

func TestReachableEventBindingSeeds(t *testing.T) {
	m := &schema.Mutation{
		Pages: []schema.Page{{
			ID:     "home",
			Events: []schema.EventBinding{{Event: "load", ActionID: "Fetch-Data"}},
		}},
		Actions: []schema.Action{{ID: "fetch_data"}},
	}

	got := Reachable(m)
	assert.True(t, got["fetch_data"])
}

func TestReachableStateChangeFixedPoint(t *testing.T) {
	m := &schema.Mutation{
		Pages: []schema.Page{{ID: "home"}},
		Actions: []schema.Action{
			{ID: "loader", TriggeredBy: lifecycleOn("home"), Writes: []string{"data.items"}},
			{ID: "watcher", TriggeredBy: stateWatch("data.items"), Writes: []string{"data.count"}},
			{ID: "second_watcher", TriggeredBy: stateWatch("data.count")},
			{ID: "dead_watcher", TriggeredBy: stateWatch("never.written")},
		},
	}

	got := Reachable(m)
	assert.True(t, got["loader"])
	assert.True(t, got["watcher"], "reachable via key written by loader")
	assert.True(t, got["second_watcher"], "reachable transitively across passes")
	assert.False(t, got["dead_watcher"])
}

func TestReachableInitialStateSeedsWatchers(t *testing.T) {
	m := &schema.Mutation{
		State:   map[string]any{"config.url": "https://example.com"},
		Actions: []schema.Action{{ID: "watch_config", TriggeredBy: stateWatch("config.url")}},
	}

	got := Reachable(m)
	assert.True(t, got["watch_config"])
}

func TestReachableEmptyMutation(t *testing.T) {
	assert.Empty(t, Reachable(&schema.Mutation{}))
	assert.Empty(t, Reachable(nil))
}
