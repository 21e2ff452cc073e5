package download_test

import (
	"fmt"
	"testing"

	"github.com/seantiz/modelrunner/internal/download"
)

func snap(total float64) download.Snapshot {
	return download.Snapshot{download.TotalKey: total}
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := download.NewBroker()
	ch, unsub := b.Subscribe("d1")
	defer unsub()

	for _, v := range []float64{0.1, 0.5, 1} {
		b.Publish("d1", snap(v))
	}
	b.Close("d1")

	var got []float64
	for s := range ch {
		got = append(got, s[download.TotalKey])
	}
	if fmt.Sprint(got) != "[0.1 0.5 1]" {
		t.Errorf("got %v, want [0.1 0.5 1]", got)
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := download.NewBroker()
	ch1, unsub1 := b.Subscribe("d1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("d1")
	defer unsub2()

	b.Publish("d1", snap(0.7))
	b.Close("d1")

	for i, ch := range []<-chan download.Snapshot{ch1, ch2} {
		var n int
		for s := range ch {
			n++
			if s[download.TotalKey] != 0.7 {
				t.Errorf("subscriber %d got %v", i, s)
			}
		}
		if n != 1 {
			t.Errorf("subscriber %d got %d snapshots, want 1", i, n)
		}
	}
}

func TestBrokerSnapshotsAreCopies(t *testing.T) {
	b := download.NewBroker()
	ch, unsub := b.Subscribe("d1")
	defer unsub()

	s := snap(0.2)
	b.Publish("d1", s)
	s[download.TotalKey] = 0.9

	if got := (<-ch)[download.TotalKey]; got != 0.2 {
		t.Errorf("subscriber saw mutation: %v", got)
	}
}

func TestBrokerLateSubscriberGetsFinalSnapshot(t *testing.T) {
	b := download.NewBroker()
	b.Publish("d1", snap(0.4))
	b.Publish("d1", snap(1))
	b.Close("d1")

	ch, unsub := b.Subscribe("d1")
	defer unsub()

	s, ok := <-ch
	if !ok || s[download.TotalKey] != 1 {
		t.Fatalf("first receive = %v, %v; want final snapshot", s, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after final snapshot")
	}
}

func TestBrokerCloseWithoutPublish(t *testing.T) {
	b := download.NewBroker()
	b.Close("d1")

	ch, unsub := b.Subscribe("d1")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := download.NewBroker()
	ch, unsub := b.Subscribe("d1")
	unsub()

	b.Publish("d1", snap(0.3))
	select {
	case s := <-ch:
		t.Errorf("received %v after unsubscribe", s)
	default:
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := download.NewBroker()
	_, unsub := b.Subscribe("d1")
	defer unsub()

	for i := range 1000 {
		b.Publish("d1", snap(float64(i)/1000))
	}
	b.Close("d1")
}

func TestBrokerForgetClosesAndResets(t *testing.T) {
	b := download.NewBroker()
	ch, unsub := b.Subscribe("d1")
	defer unsub()
	b.Publish("d1", snap(0.5))
	b.Forget("d1")

	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("got %d snapshots before close, want 1", n)
	}

	// A forgotten topic keeps no final snapshot.
	b.Publish("d1", snap(0.9))
	late, unsubLate := b.Subscribe("d1")
	defer unsubLate()
	if got := (<-late)[download.TotalKey]; got != 0.9 {
		t.Errorf("late subscriber got %v, want 0.9", got)
	}
}
