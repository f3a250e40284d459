package integration

import (
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/poonai/mymq/internal/cluster"
	"github.com/poonai/mymq/internal/rebalance"
)

// startTestCluster boots a broker on an arbitrary free port and returns its
// address plus a cleanup function.
func startTestCluster(t *testing.T) (string, func()) {
	t.Helper()

	cfg := cluster.DefaultConfig
	cfg.NumShards = 2
	cfg.Shard.LocalAckEvery = 5 * time.Millisecond
	cfg.KeepAliveCheckEvery = 50 * time.Millisecond
	cfg.FlushEvery = 5 * time.Millisecond

	c := cluster.New(cfg, rebalance.SingleNode{})
	if err := c.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}

	addr := c.Addr()
	return addr, func() {
		if err := c.Close(); err != nil {
			t.Logf("cluster close: %v", err)
		}
	}
}

func newClient(t *testing.T, addr, clientID string) mqtt.Client {
	t.Helper()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", addr))
	opts.SetClientID(clientID)
	opts.SetProtocolVersion(5)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(3 * time.Second)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(3 * time.Second) {
		t.Fatalf("%s: connect timed out", clientID)
	}
	if err := token.Error(); err != nil {
		t.Fatalf("%s: connect failed: %v", clientID, err)
	}
	return c
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	addr, stop := startTestCluster(t)
	defer stop()

	sub := newClient(t, addr, "sub-1")
	defer sub.Disconnect(250)

	received := make(chan mqtt.Message, 1)
	subToken := sub.Subscribe("sensors/temp", 1, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	if !subToken.WaitTimeout(3 * time.Second) || subToken.Error() != nil {
		t.Fatalf("subscribe failed: %v", subToken.Error())
	}

	pub := newClient(t, addr, "pub-1")
	defer pub.Disconnect(250)

	pubToken := pub.Publish("sensors/temp", 1, false, "72.5")
	if !pubToken.WaitTimeout(3 * time.Second) || pubToken.Error() != nil {
		t.Fatalf("publish failed: %v", pubToken.Error())
	}

	select {
	case msg := <-received:
		if string(msg.Payload()) != "72.5" {
			t.Fatalf("unexpected payload: %q", msg.Payload())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivered message")
	}
}

func TestWildcardSubscription(t *testing.T) {
	addr, stop := startTestCluster(t)
	defer stop()

	sub := newClient(t, addr, "sub-wild")
	defer sub.Disconnect(250)

	received := make(chan mqtt.Message, 4)
	subToken := sub.Subscribe("home/+/temperature", 1, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	if !subToken.WaitTimeout(3 * time.Second) || subToken.Error() != nil {
		t.Fatalf("subscribe failed: %v", subToken.Error())
	}

	pub := newClient(t, addr, "pub-wild")
	defer pub.Disconnect(250)

	for _, topic := range []string{"home/kitchen/temperature", "home/garage/temperature"} {
		tok := pub.Publish(topic, 1, false, topic)
		if !tok.WaitTimeout(3*time.Second) || tok.Error() != nil {
			t.Fatalf("publish to %s failed: %v", topic, tok.Error())
		}
	}

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case msg := <-received:
			seen[string(msg.Payload())] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, only saw %d of 2 expected deliveries", len(seen))
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	addr, stop := startTestCluster(t)
	defer stop()

	sub := newClient(t, addr, "sub-unsub")
	defer sub.Disconnect(250)

	received := make(chan mqtt.Message, 2)
	subToken := sub.Subscribe("alerts/fire", 0, func(_ mqtt.Client, msg mqtt.Message) {
		received <- msg
	})
	if !subToken.WaitTimeout(3 * time.Second) || subToken.Error() != nil {
		t.Fatalf("subscribe failed: %v", subToken.Error())
	}

	unsubToken := sub.Unsubscribe("alerts/fire")
	if !unsubToken.WaitTimeout(3 * time.Second) || unsubToken.Error() != nil {
		t.Fatalf("unsubscribe failed: %v", unsubToken.Error())
	}

	pub := newClient(t, addr, "pub-unsub")
	defer pub.Disconnect(250)

	pubToken := pub.Publish("alerts/fire", 0, false, "should not arrive")
	if !pubToken.WaitTimeout(3 * time.Second) || pubToken.Error() != nil {
		t.Fatalf("publish failed: %v", pubToken.Error())
	}

	select {
	case msg := <-received:
		t.Fatalf("expected no delivery after unsubscribe, got %q", msg.Payload())
	case <-time.After(500 * time.Millisecond):
		// expected: nothing arrives
	}
}
