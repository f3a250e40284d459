package queue

import "testing"

func TestTrySendsAndRecvsFullBatch(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	p := NewProducer(q)

	rest, status := p.TrySends([]int{1, 2, 3})
	if status != Ok || rest != nil {
		t.Fatalf("expected Ok/nil, got %v %v", status, rest)
	}

	items, status := q.TryRecvs(2)
	if status != Ok || len(items) != 2 || items[0] != 1 || items[1] != 2 {
		t.Fatalf("unexpected recv: %v %v", items, status)
	}
}

func TestTrySendsBlocksWhenFull(t *testing.T) {
	w := NewWaker()
	q := New[int](2, w)
	p := NewProducer(q)

	if _, status := p.TrySends([]int{1, 2}); status != Ok {
		t.Fatalf("expected Ok filling capacity, got %v", status)
	}
	rest, status := p.TrySends([]int{3, 4})
	if status != Block {
		t.Fatalf("expected Block, got %v", status)
	}
	if len(rest) != 2 || rest[0] != 3 {
		t.Fatalf("expected unsent batch [3 4], got %v", rest)
	}
}

func TestTryRecvsBlockOnEmpty(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	items, status := q.TryRecvs(4)
	if status != Block || len(items) != 0 {
		t.Fatalf("expected Block/empty, got %v %v", status, items)
	}
}

func TestCloseWakesConsumerOnlyIfSent(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	p := NewProducer(q)

	p.Close()
	select {
	case <-w.C():
		t.Fatal("unexpected wake with no items sent")
	default:
	}

	p.TrySends([]int{1})
	p.Close()
	select {
	case <-w.C():
	default:
		t.Fatal("expected wake after closing a producer that sent an item")
	}
}

func TestClonedProducersWakeIndependently(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	p1 := NewProducer(q)
	p2 := p1.Clone()

	p1.TrySends([]int{1})
	p1.Close()
	select {
	case <-w.C():
	default:
		t.Fatal("expected wake from p1")
	}

	p2.Close()
	select {
	case <-w.C():
		t.Fatal("p2 never sent, should not wake")
	default:
	}
}

func TestDisconnectedAfterClose(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	p := NewProducer(q)
	q.CloseQueue()

	if _, status := p.TrySends([]int{1}); status != Disconnected {
		t.Fatalf("expected Disconnected, got %v", status)
	}

	items, status := q.TryRecvs(4)
	if status != Disconnected || len(items) != 0 {
		t.Fatalf("expected Disconnected/empty drain, got %v %v", status, items)
	}
}

func TestDisconnectedDrainsRemainingFirst(t *testing.T) {
	w := NewWaker()
	q := New[int](4, w)
	p := NewProducer(q)
	p.TrySends([]int{1, 2})
	q.CloseQueue()

	items, status := q.TryRecvs(4)
	if status != Disconnected {
		t.Fatalf("expected Disconnected, got %v", status)
	}
	if len(items) != 2 {
		t.Fatalf("expected remaining items drained first, got %v", items)
	}
}
