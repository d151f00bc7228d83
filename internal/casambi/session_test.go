package casambi

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/larkov/casambi-bridge/internal/clock"
)

func newTestSession(t *testing.T, networkID string) (*Session, *fakeDialer, *Connection) {
	t.Helper()
	dialer := &fakeDialer{}
	conn := newTestConnection(t, dialer, clock.NewFake())
	sess := NewSession(NetworkSession{
		NetworkID:   networkID,
		NetworkName: "Test Network",
		Token:       "token-" + networkID,
	}, conn, nil, nil)
	t.Cleanup(sess.Close)
	return sess, dialer, conn
}

func TestEnsureWireOpenSingleFlight(t *testing.T) {
	sess, dialer, _ := newTestSession(t, "net-1")

	const callers = 8
	var wg sync.WaitGroup
	wires := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wires[i], errs[i] = sess.EnsureWireOpen(context.Background())
		}(i)
	}

	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)
	replyOpenSucceed(t, tr, 0)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if wires[i] != wires[0] {
			t.Fatalf("caller %d got wire %d, caller 0 got %d", i, wires[i], wires[0])
		}
	}
	// One handshake total despite eight concurrent callers.
	if got := tr.writeCount(); got != 1 {
		t.Errorf("expected 1 open frame, got %d writes", got)
	}

	// The memoized wire needs no further handshake.
	wire, err := sess.EnsureWireOpen(context.Background())
	if err != nil {
		t.Fatalf("EnsureWireOpen: %v", err)
	}
	if wire != wires[0] {
		t.Errorf("memoized wire = %d, want %d", wire, wires[0])
	}
	if got := tr.writeCount(); got != 1 {
		t.Errorf("memoized wire triggered another handshake: %d writes", got)
	}
}

func TestWireReopensAfterLoss(t *testing.T) {
	sess, dialer, conn := newTestSession(t, "net-1")

	go func() { _, _ = sess.EnsureWireOpen(context.Background()) }()
	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	replyOpenSucceed(t, dialer.transport(0), 0)
	waitFor(t, func() bool { return sess.WireID() == 1 }, "first wire open")

	// Drop the socket; the session must forget its wire.
	_ = dialer.transport(0).Close()
	waitFor(t, func() bool { return sess.WireID() == 0 }, "wire reset on loss")

	// Next command reopens a fresh wire on the new transport.
	clk := conn.clk.(*clock.Fake)
	waitFor(t, func() bool {
		return conn.State() == StateLost && clk.PendingTimers() == 1
	}, "reconnect timer armed")
	clk.Advance(5 * time.Second)

	wireCh := make(chan int, 1)
	go func() {
		wire, err := sess.EnsureWireOpen(context.Background())
		if err != nil {
			t.Errorf("EnsureWireOpen after reconnect: %v", err)
		}
		wireCh <- wire
	}()
	waitFor(t, func() bool { return dialer.transportCount() == 2 }, "redial")
	frame := replyOpenSucceed(t, dialer.transport(1), 0)
	if frame.Wire != 2 {
		t.Errorf("reopened wire = %d, want 2 (IDs never reused)", frame.Wire)
	}
	if got := <-wireCh; got != 2 {
		t.Errorf("EnsureWireOpen returned %d, want 2", got)
	}
}

func TestOpenResolvedDuringLossDiscarded(t *testing.T) {
	sess, dialer, _ := newTestSession(t, "net-1")

	// Start a handshake by hand so the loss can be interleaved between
	// the open reply resolving and the session memoizing the wire.
	sess.mu.Lock()
	pending := make(chan struct{})
	sess.opening = pending
	gen := sess.wireGen
	sess.mu.Unlock()
	go sess.openWire(gen)

	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)

	// The connection drops while the open reply is still in flight.
	sess.handleConnClosed(nil)

	replyOpenSucceed(t, tr, 0)
	<-pending

	// The late reply belongs to the dead socket and must not resurrect
	// a wire ID the server no longer knows.
	if wire := sess.WireID(); wire != 0 {
		t.Fatalf("stale open memoized wire %d, want 0", wire)
	}
	sess.mu.Lock()
	err := sess.lastOpenErr
	sess.mu.Unlock()
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("lastOpenErr = %v, want ErrNotConnected", err)
	}
}

func TestSendControlUnit(t *testing.T) {
	sess, dialer, _ := newTestSession(t, "net-1")

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.SendControlUnit(context.Background(), 7, TargetControls{
			Dimmer: &ValueTarget{Value: 0.5},
		})
	}()

	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)
	replyOpenSucceed(t, tr, 0)

	if err := <-errCh; err != nil {
		t.Fatalf("SendControlUnit: %v", err)
	}
	waitFor(t, func() bool { return tr.writeCount() == 2 }, "control frame written")

	var frame ControlFrame
	if err := json.Unmarshal(tr.write(1), &frame); err != nil {
		t.Fatalf("decoding control frame: %v", err)
	}
	if frame.Method != MethodControlUnit || frame.ID != 7 || frame.Wire != 1 {
		t.Errorf("control frame = %+v, want controlUnit for unit 7 on wire 1", frame)
	}
	if frame.TargetControls.Dimmer == nil || frame.TargetControls.Dimmer.Value != 0.5 {
		t.Errorf("control frame dimmer = %+v, want 0.5", frame.TargetControls.Dimmer)
	}
	if frame.TargetControls.OnOff != nil {
		t.Error("untouched controls must be omitted from the frame")
	}
}

func TestEventsFilteredByWire(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newTestConnection(t, dialer, clock.NewFake())
	sessA := NewSession(NetworkSession{NetworkID: "net-a", Token: "tok-a"}, conn, nil, nil)
	sessB := NewSession(NetworkSession{NetworkID: "net-b", Token: "tok-b"}, conn, nil, nil)
	t.Cleanup(sessA.Close)
	t.Cleanup(sessB.Close)

	var mu sync.Mutex
	var gotA, gotB []UnitEvent
	sessA.SubscribeUnitChanged(func(ev UnitEvent) {
		mu.Lock()
		gotA = append(gotA, ev)
		mu.Unlock()
	})
	sessB.SubscribeUnitChanged(func(ev UnitEvent) {
		mu.Lock()
		gotB = append(gotB, ev)
		mu.Unlock()
	})

	go func() { _, _ = sessA.EnsureWireOpen(context.Background()) }()
	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)
	replyOpenSucceed(t, tr, 0)
	waitFor(t, func() bool { return sessA.WireID() == 1 }, "wire A")

	go func() { _, _ = sessB.EnsureWireOpen(context.Background()) }()
	replyOpenSucceed(t, tr, 1)
	waitFor(t, func() bool { return sessB.WireID() == 2 }, "wire B")

	tr.deliver(`{"method":"unitChanged","wire":1,"id":3,"controls":[{"type":"Dimmer","value":0.25}]}`)
	tr.deliver(`{"method":"unitChanged","wire":2,"id":9,"controls":[{"type":"Dimmer","value":1}]}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 1 && len(gotB) == 1
	}, "events delivered")

	mu.Lock()
	defer mu.Unlock()
	if gotA[0].NetworkID != "net-a" || gotA[0].UnitID != 3 {
		t.Errorf("session A got %+v, want unit 3 on net-a", gotA[0])
	}
	if dimmer := gotA[0].State.Controls[ControlDimmer]; dimmer.Value != 0.25 {
		t.Errorf("session A dimmer = %v, want 0.25", dimmer.Value)
	}
	if gotB[0].NetworkID != "net-b" || gotB[0].UnitID != 9 {
		t.Errorf("session B got %+v, want unit 9 on net-b", gotB[0])
	}
}

func TestPeerAndNetworkEvents(t *testing.T) {
	sess, dialer, _ := newTestSession(t, "net-1")

	var mu sync.Mutex
	var peers []PeerEvent
	var networks []NetworkEvent
	sess.SubscribePeerChanged(func(ev PeerEvent) {
		mu.Lock()
		peers = append(peers, ev)
		mu.Unlock()
	})
	sess.SubscribeNetworkUpdated(func(ev NetworkEvent) {
		mu.Lock()
		networks = append(networks, ev)
		mu.Unlock()
	})

	go func() { _, _ = sess.EnsureWireOpen(context.Background()) }()
	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)
	replyOpenSucceed(t, tr, 0)
	waitFor(t, func() bool { return sess.WireID() == 1 }, "wire open")

	tr.deliver(`{"method":"peerChanged","wire":1,"online":false}`)
	tr.deliver(`{"method":"networkUpdated","wire":1}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(peers) == 1 && len(networks) == 1
	}, "events delivered")

	mu.Lock()
	defer mu.Unlock()
	if peers[0].Online {
		t.Error("peer event online = true, want false")
	}
	if networks[0].NetworkID != "net-1" {
		t.Errorf("network event for %q, want net-1", networks[0].NetworkID)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	sess, dialer, _ := newTestSession(t, "net-1")

	var mu sync.Mutex
	count := 0
	unsub := sess.SubscribeUnitChanged(func(UnitEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	go func() { _, _ = sess.EnsureWireOpen(context.Background()) }()
	waitFor(t, func() bool { return dialer.transportCount() == 1 }, "dial")
	tr := dialer.transport(0)
	replyOpenSucceed(t, tr, 0)
	waitFor(t, func() bool { return sess.WireID() == 1 }, "wire open")

	tr.deliver(`{"method":"unitChanged","wire":1,"id":1}`)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, "first event")

	unsub()
	tr.deliver(`{"method":"unitChanged","wire":1,"id":1}`)
	tr.deliver(`{"method":"unitChanged","wire":1,"id":2}`)

	// Give delivery a moment; the count must not move.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("events after unsubscribe: count = %d, want 1", count)
	}
}
