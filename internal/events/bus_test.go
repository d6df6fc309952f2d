package events

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBusBroadcastOrder(t *testing.T) {
	bus := NewBus()

	chA, cancelA := bus.Subscribe()
	chB, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Publish(Started("/tmp/s.py"))
	bus.Publish(LogLine(StreamStdout, "one"))
	bus.Publish(LogLine(StreamStdout, "two"))
	code := 0
	bus.Publish(Completed(true, &code))

	for name, ch := range map[string]<-chan Event{"A": chA, "B": chB} {
		var types []Type
		var lines []string
		for i := 0; i < 4; i++ {
			e := <-ch
			types = append(types, e.Type)
			if e.Type == TypeLogLine {
				lines = append(lines, e.Text)
			}
		}
		if types[0] != TypeStarted || types[3] != TypeCompleted {
			t.Errorf("subscriber %s: unexpected order %v", name, types)
		}
		if strings.Join(lines, ",") != "one,two" {
			t.Errorf("subscriber %s: log lines out of order: %v", name, lines)
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	// Nobody drains the channel; publishing past the buffer must not hang.
	for i := 0; i < defaultBuffer+10; i++ {
		bus.Publish(LogLine(StreamStdout, "spam"))
	}
	if bus.Dropped() != 10 {
		t.Errorf("expected 10 dropped events, got %d", bus.Dropped())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	if bus.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.Subscribers())
	}

	// A second cancel is a no-op.
	cancel()
	bus.Publish(Killed())
}

func TestEventJSONShape(t *testing.T) {
	code := 2
	data, err := json.Marshal(Completed(false, &code))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"type":"completed"`) || !strings.Contains(s, `"exit_code":2`) {
		t.Errorf("unexpected JSON: %s", s)
	}
	if strings.Contains(s, "script_path") {
		t.Errorf("zero fields should be omitted: %s", s)
	}

	data, _ = json.Marshal(Completed(false, nil))
	if strings.Contains(string(data), "exit_code") {
		t.Errorf("nil exit code should be omitted: %s", data)
	}
}
