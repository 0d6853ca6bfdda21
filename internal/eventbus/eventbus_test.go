package eventbus

import (
	"io"
	"log/slog"
	"testing"
)

type testEventA struct{ Value int }
type testEventB struct{ Value string }

func testBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublish_DispatchesToMatchingType(t *testing.T) {
	b := testBus()
	var got int
	Subscribe(b, func(e testEventA) { got = e.Value })

	b.Publish(testEventA{Value: 42})

	if got != 42 {
		t.Errorf("handler received %d, want 42", got)
	}
}

func TestPublish_IgnoresOtherTypes(t *testing.T) {
	b := testBus()
	called := false
	Subscribe(b, func(e testEventB) { called = true })

	b.Publish(testEventA{Value: 1})

	if called {
		t.Error("handler for testEventB should not fire on a testEventA publish")
	}
}

func TestPublish_MultipleHandlersForSameType(t *testing.T) {
	b := testBus()
	var calls int
	Subscribe(b, func(e testEventA) { calls++ })
	Subscribe(b, func(e testEventA) { calls++ })

	b.Publish(testEventA{Value: 1})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPublish_HandlerPanicDoesNotBlockOthers(t *testing.T) {
	b := testBus()
	second := false
	Subscribe(b, func(e testEventA) { panic("boom") })
	Subscribe(b, func(e testEventA) { second = true })

	b.Publish(testEventA{Value: 1})

	if !second {
		t.Error("second handler should still run after the first panics")
	}
}

func TestPublishMany_PreservesOrderPerType(t *testing.T) {
	b := testBus()
	var seen []int
	Subscribe(b, func(e testEventA) { seen = append(seen, e.Value) })

	b.PublishMany([]any{testEventA{Value: 1}, testEventB{Value: "x"}, testEventA{Value: 2}})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("seen = %v, want [1 2]", seen)
	}
}
