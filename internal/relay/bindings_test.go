package relay

import (
	"reflect"
	"testing"
)

func TestBindingTable_LastRegistrationWins(t *testing.T) {
	bt := NewBindingTable()
	if prev := bt.Bind("cam", "g1"); prev != "" {
		t.Fatalf("first Bind previous=%q, want empty", prev)
	}
	if prev := bt.Bind("cam", "g2"); prev != "g1" {
		t.Fatalf("second Bind previous=%q, want g1", prev)
	}
	gw, ok := bt.Gateway("cam")
	if !ok || gw != "g2" {
		t.Fatalf("Gateway(cam)=%q,%v, want g2,true", gw, ok)
	}
	if bt.IsGateway("g1") {
		t.Fatalf("IsGateway(g1)=true after its only stream was rebound")
	}
	if !bt.IsGateway("g2") {
		t.Fatalf("IsGateway(g2)=false")
	}
}

func TestBindingTable_UnbindIsCompareAndDelete(t *testing.T) {
	bt := NewBindingTable()
	bt.Bind("cam", "g2")

	if bt.Unbind("cam", "g1") {
		t.Fatalf("Unbind with stale gateway removed the binding")
	}
	if _, ok := bt.Gateway("cam"); !ok {
		t.Fatalf("binding missing after no-op Unbind")
	}
	if !bt.Unbind("cam", "g2") {
		t.Fatalf("Unbind(cam, g2)=false")
	}
	if _, ok := bt.Gateway("cam"); ok {
		t.Fatalf("binding still present after Unbind")
	}
}

func TestBindingTable_ReleaseSession(t *testing.T) {
	bt := NewBindingTable()
	bt.Bind("front", "g1")
	bt.Bind("back", "g1")
	bt.Bind("side", "g2")
	bt.SetRoute("v1", "g1")
	bt.SetRoute("v2", "g2")
	bt.SetRoute("g1", "g2")

	released := bt.ReleaseSession("g1")
	if want := []string{"back", "front"}; !reflect.DeepEqual(released, want) {
		t.Fatalf("released=%v, want %v", released, want)
	}
	if want := map[string]string{"side": "g2"}; !reflect.DeepEqual(bt.Streams(), want) {
		t.Fatalf("streams=%v, want %v", bt.Streams(), want)
	}
	if _, ok := bt.Route("v1"); ok {
		t.Fatalf("route for viewer of released gateway still present")
	}
	if _, ok := bt.Route("g1"); ok {
		t.Fatalf("route keyed by released session still present")
	}
	if gw, ok := bt.Route("v2"); !ok || gw != "g2" {
		t.Fatalf("Route(v2)=%q,%v, want g2,true", gw, ok)
	}
	if got := bt.RouteCount(); got != 1 {
		t.Fatalf("RouteCount=%d, want 1", got)
	}
}

func TestBindingTable_StreamsIsACopy(t *testing.T) {
	bt := NewBindingTable()
	bt.Bind("cam", "g1")
	snap := bt.Streams()
	snap["cam"] = "mutated"
	delete(snap, "cam")
	if gw, _ := bt.Gateway("cam"); gw != "g1" {
		t.Fatalf("Gateway(cam)=%q after mutating snapshot, want g1", gw)
	}
}

func TestBindingTable_Routes(t *testing.T) {
	bt := NewBindingTable()
	if _, ok := bt.Route("v"); ok {
		t.Fatalf("Route on empty table succeeded")
	}
	bt.SetRoute("v", "g")
	if gw, ok := bt.Route("v"); !ok || gw != "g" {
		t.Fatalf("Route(v)=%q,%v, want g,true", gw, ok)
	}
	bt.ClearRoute("v")
	if _, ok := bt.Route("v"); ok {
		t.Fatalf("Route after ClearRoute succeeded")
	}
	if bt.IsGateway("") {
		t.Fatalf("IsGateway(\"\")=true")
	}
}
