package topicindex

import "testing"

func hasClient(subs []Subscriber, clientID string) bool {
	for _, s := range subs {
		if s.ClientID == clientID {
			return true
		}
	}
	return false
}

func TestExactMatch(t *testing.T) {
	idx := New()
	idx.Insert("a/b/c", Subscriber{ClientID: "c1"})

	got := idx.Match("a/b/c")
	if !hasClient(got, "c1") {
		t.Fatalf("expected c1 to match, got %v", got)
	}
	if hasClient(idx.Match("a/b/d"), "c1") {
		t.Fatal("unexpected match on a different topic")
	}
}

func TestPlusWildcard(t *testing.T) {
	idx := New()
	idx.Insert("a/+/c", Subscriber{ClientID: "c1"})

	if !hasClient(idx.Match("a/b/c"), "c1") {
		t.Fatal("expected + to match single level")
	}
	if hasClient(idx.Match("a/b/x/c"), "c1") {
		t.Fatal("+ must not match multiple levels")
	}
}

func TestHashWildcard(t *testing.T) {
	idx := New()
	idx.Insert("a/#", Subscriber{ClientID: "c1"})

	if !hasClient(idx.Match("a/b"), "c1") {
		t.Fatal("expected # to match remaining levels")
	}
	if !hasClient(idx.Match("a/b/c/d"), "c1") {
		t.Fatal("expected # to match arbitrarily deep levels")
	}
}

func TestRemove(t *testing.T) {
	idx := New()
	idx.Insert("a/b", Subscriber{ClientID: "c1"})
	idx.Remove("a/b", "c1")

	if hasClient(idx.Match("a/b"), "c1") {
		t.Fatal("expected removed subscription to stop matching")
	}
}

func TestRemoveClientAcrossFilters(t *testing.T) {
	idx := New()
	idx.Insert("a/b", Subscriber{ClientID: "c1"})
	idx.Insert("x/y", Subscriber{ClientID: "c1"})
	idx.RemoveClient("c1")

	if hasClient(idx.Match("a/b"), "c1") || hasClient(idx.Match("x/y"), "c1") {
		t.Fatal("expected all subscriptions for c1 to be removed")
	}
}

func TestResubscribeReplacesOptions(t *testing.T) {
	idx := New()
	idx.Insert("a/b", Subscriber{ClientID: "c1", QoS: 0})
	idx.Insert("a/b", Subscriber{ClientID: "c1", QoS: 2})

	got := idx.Match("a/b")
	if len(got) != 1 || got[0].QoS != 2 {
		t.Fatalf("expected single subscription with QoS 2, got %v", got)
	}
}
