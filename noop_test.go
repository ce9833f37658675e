package calltrace

import (
	"testing"
)

func BenchmarkProbeHooks(b *testing.B) {
	probe := NewProbe()
	target := Builtin("noop")
	fn := func() {}

	b.Run("unsubscribed", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			leaf(probe)
			probe.CallForeign(target, fn)
		}
	})

	b.Run("subscribed", func(b *testing.B) {
		buffer := NewBuffer(b.N*3 + 1)
		if err := probe.Subscribe(buffer); err != nil {
			b.Fatal(err)
		}
		defer probe.Unsubscribe()

		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			leaf(probe)
			probe.CallForeign(target, fn)
		}
	})
}

func TestUnsubscribedProbeIsInert(t *testing.T) {
	probe := NewProbe()

	if probe.Subscribed() {
		t.Error("probe should have no subscriber initially")
	}

	// With no subscriber, hooks deliver nothing and still run the body.
	ran := false
	leaf(probe)
	probe.Call(Builtin("x"))
	probe.CallForeign(Builtin("x"), func() { ran = true })
	if !ran {
		t.Error("CallForeign must run its body without a subscriber")
	}

	f := probe.Enter()
	if f.probe != nil {
		t.Error("expected zero Frame without a subscriber")
	}
	f.Exit()
	Frame{}.Return(1)

	if len(probe.sites) != 0 {
		t.Errorf("expected no call sites resolved, got %d", len(probe.sites))
	}
}

func TestFrameOutlivingSubscription(t *testing.T) {
	probe := NewProbe()
	sink := &sliceSink{}
	if err := probe.Subscribe(sink); err != nil {
		t.Fatal(err)
	}

	f := probe.Enter()
	_ = probe.Unsubscribe()
	f.Exit()

	if len(sink.ns) != 1 || sink.ns[0].Kind != EventFrameStart {
		t.Errorf("expected only the frame start, got %v", sink.kinds())
	}
}
