package bus

import (
	"bytes"
	"testing"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	ch1, un1 := b.Subscribe()
	ch2, un2 := b.Subscribe()
	defer un1()
	defer un2()

	b.Publish([]byte("hello"))
	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			if !bytes.Equal(got, []byte("hello")) {
				t.Fatalf("payload: %q", got)
			}
		default:
			t.Fatal("subscriber did not receive")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.Len() != 0 {
		t.Fatalf("subscribers remain: %d", b.Len())
	}
	// Publishing with no subscribers is a no-op.
	b.Publish([]byte("x"))
}

func TestSlowSubscriberSkipped(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 200; i++ {
		b.Publish([]byte{byte(i)})
	}
	// Buffer holds 64; the rest were dropped rather than blocking.
	if got := len(ch); got != 64 {
		t.Fatalf("buffered: got %d, want 64", got)
	}
}
