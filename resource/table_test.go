package resource

import (
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestUnifiedTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(1, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok = table.GetTyped(h, 1); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok = table.GetTyped(h, 2); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestUnifiedTable_RemoveTyped(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}
	h := table.Insert(1, d)

	if _, ok := table.RemoveTyped(h, 2); ok {
		t.Fatal("RemoveTyped with wrong type should fail")
	}
	if d.count != 0 {
		t.Fatal("wrong-type RemoveTyped must not drop")
	}
	if _, ok := table.RemoveTyped(h, 1); !ok {
		t.Fatal("RemoveTyped with correct type failed")
	}
	if d.count != 1 {
		t.Fatalf("Expected one Drop, got %d", d.count)
	}
}

func TestUnifiedTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(1, "test")
	if len(obs.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated {
		t.Fatal("Expected EventCreated")
	}
	if obs.events[0].Handle != h {
		t.Fatal("Wrong handle in event")
	}

	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[1].Type != EventDropped {
		t.Fatal("Expected EventDropped")
	}
	if obs.events[1].TypeID != 1 {
		t.Fatalf("Expected TypeID 1, got %d", obs.events[1].TypeID)
	}

	// A failed remove emits nothing
	table.Remove(h)
	if len(obs.events) != 2 {
		t.Fatal("stale Remove should not notify")
	}

	table.Unsubscribe(obs)
	table.Insert(1, "test2")
	if len(obs.events) != 2 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestUnifiedTable_Clear(t *testing.T) {
	table := NewTable()

	table.Insert(1, "a")
	table.Insert(1, "b")
	table.Insert(1, "c")

	if table.Len() != 3 {
		t.Fatal("Expected Len() == 3")
	}

	table.Clear()

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Clear")
	}
}

func TestUnifiedTable_Close(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	d := &dropCounter{}
	table.Insert(1, d)
	table.Insert(1, "b")

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("Expected Drop() once on Close, got %d", d.count)
	}

	dropped := 0
	for _, e := range obs.events {
		if e.Type == EventDropped {
			dropped++
		}
	}
	if dropped != 2 {
		t.Fatalf("Expected 2 drop events, got %d", dropped)
	}

	if h := table.Insert(1, "c"); h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
}

type dropCounter struct {
	count int
}

func (d *dropCounter) Drop() {
	d.count++
}

func TestUnifiedTable_DropperInterface(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}

	h := table.Insert(1, d)
	table.Remove(h)

	if d.count != 1 {
		t.Fatalf("Expected Drop() to be called once, called %d times", d.count)
	}

	table.Remove(h)
	if d.count != 1 {
		t.Fatalf("stale Remove called Drop again (%d)", d.count)
	}
}

type widget struct{ name string }

func TestTyped(t *testing.T) {
	table := NewTable()
	widgets := NewTyped[*widget](table, 3)
	others := NewTyped[*widget](table, 4)

	h := widgets.Insert(&widget{name: "w1"})
	table.Insert(9, "unrelated")

	w, ok := widgets.Get(h)
	if !ok || w.name != "w1" {
		t.Fatalf("Get = %v, %v", w, ok)
	}
	if _, ok := others.Get(h); ok {
		t.Fatal("view with another type ID resolved the handle")
	}
	if widgets.Len() != 1 {
		t.Fatalf("Expected Len() == 1, got %d", widgets.Len())
	}

	var seen []string
	widgets.Each(func(_ Handle, w *widget) bool {
		seen = append(seen, w.name)
		return true
	})
	if len(seen) != 1 || seen[0] != "w1" {
		t.Fatalf("Each saw %v", seen)
	}

	if _, ok := others.Remove(h); ok {
		t.Fatal("Remove through wrong view should fail")
	}
	if _, ok := widgets.Remove(h); !ok {
		t.Fatal("Remove failed")
	}
	if _, ok := widgets.Get(h); ok {
		t.Fatal("Get after Remove should fail")
	}
}
