package pipes

import "testing"

func TestMessageChannelCapacityOneDropsOnFull(t *testing.T) {
	ch := newMessageChannel()

	if got := ch.trySend("first\n"); got != sendEnqueued {
		t.Fatalf("first send = %v, want sendEnqueued", got)
	}
	if got := ch.trySend("second\n"); got != sendDropped {
		t.Fatalf("second send with full channel = %v, want sendDropped", got)
	}

	if got := <-ch.lines; got != "first\n" {
		t.Fatalf("drained %q, want %q", got, "first\n")
	}

	if got := ch.trySend("third\n"); got != sendEnqueued {
		t.Fatalf("send after drain = %v, want sendEnqueued", got)
	}
}

func TestMessageChannelDisconnected(t *testing.T) {
	ch := newMessageChannel()
	ch.close()

	if got := ch.trySend("x\n"); got != sendDisconnected {
		t.Fatalf("send after close = %v, want sendDisconnected", got)
	}
}
