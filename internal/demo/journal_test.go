package demo_test

import (
	"testing"

	"github.com/distmon/distmon/internal/demo"
)

func TestJournal_RecordsEventsInOrder(t *testing.T) {
	j, err := demo.OpenJournal(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	j.RecordProduce("1")
	j.RecordConsume("1")
	j.RecordProduce("2")

	events, err := j.Events()
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []struct{ kind, value string }{
		{"produce", "1"}, {"consume", "1"}, {"produce", "2"},
	}
	for i, w := range want {
		if events[i].Kind != w.kind || events[i].Value != w.value {
			t.Errorf("event %d: got (%s, %s), want (%s, %s)", i, events[i].Kind, events[i].Value, w.kind, w.value)
		}
	}
}
