package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/room"
)

type routerHarness struct {
	rooms    *room.Table
	registry *Registry
	router   *Router
	metrics  *metrics.Metrics
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	rooms := room.NewTable()
	reg := NewRegistry(rooms, 16)
	m := metrics.New()
	return &routerHarness{
		rooms:    rooms,
		registry: reg,
		router:   NewRouter(reg, rooms, slog.New(slog.NewTextHandler(io.Discard, nil)), m),
		metrics:  m,
	}
}

func (h *routerHarness) dispatch(t *testing.T, sender *Peer, msg Inbound) error {
	t.Helper()
	return h.router.Dispatch(sender, msg)
}

func takeOne(t *testing.T, p *Peer) Outbound {
	t.Helper()
	select {
	case msg := <-p.Outbound():
		return msg
	default:
		t.Fatalf("peer %s: expected an outbound message, got none", p.ID())
		return nil
	}
}

func expectNothing(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case msg := <-p.Outbound():
		t.Fatalf("peer %s: unexpected outbound %#v", p.ID(), msg)
	default:
	}
}

func TestRouter_JoinCreatesThenJoins(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()

	if err := h.dispatch(t, a, JoinRequest{Room: "abc"}); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if got, want := takeOne(t, a), (RoomCreated{RoomID: "abc", PeerID: a.ID()}); got != want {
		t.Fatalf("a got %#v, want %#v", got, want)
	}
	expectNothing(t, b)

	if err := h.dispatch(t, b, JoinRequest{Room: "abc"}); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if got, want := takeOne(t, b), (RoomJoined{RoomID: "abc", PeerID: b.ID()}); got != want {
		t.Fatalf("b got %#v, want %#v", got, want)
	}
	expectNothing(t, a)

	if got := h.rooms.MemberCount("abc"); got != 2 {
		t.Fatalf("MemberCount=%d, want 2", got)
	}
	if h.metrics.Get(metrics.RoomCreated) != 1 || h.metrics.Get(metrics.RoomJoined) != 1 {
		t.Fatalf("room metrics created=%d joined=%d", h.metrics.Get(metrics.RoomCreated), h.metrics.Get(metrics.RoomJoined))
	}
}

func TestRouter_JoinDifferentRoomLeavesPrevious(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()

	_ = h.dispatch(t, a, JoinRequest{Room: "one"})
	takeOne(t, a)
	_ = h.dispatch(t, a, JoinRequest{Room: "two"})
	if _, ok := takeOne(t, a).(RoomCreated); !ok {
		t.Fatalf("expected room_created for second room")
	}

	if got := h.rooms.MemberCount("one"); got != 0 {
		t.Fatalf("MemberCount(one)=%d, want 0", got)
	}
	if got := h.rooms.MemberCount("two"); got != 1 {
		t.Fatalf("MemberCount(two)=%d, want 1", got)
	}
	if a.Room() != "two" {
		t.Fatalf("Room=%q, want two", a.Room())
	}
}

func TestRouter_RejoinSameRoomIsIdempotent(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()

	_ = h.dispatch(t, a, JoinRequest{Room: "abc"})
	takeOne(t, a)
	_ = h.dispatch(t, a, JoinRequest{Room: "abc"})
	if _, ok := takeOne(t, a).(RoomJoined); !ok {
		t.Fatalf("expected room_joined on rejoin")
	}
	if got := h.rooms.MemberCount("abc"); got != 1 {
		t.Fatalf("MemberCount=%d, want 1", got)
	}
}

func TestRouter_StartCallFansOutExcludingSender(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()
	c := h.registry.Connect()
	outsider := h.registry.Connect()

	for _, p := range []*Peer{a, b, c} {
		_ = h.dispatch(t, p, JoinRequest{Room: "abc"})
		takeOne(t, p)
	}
	_ = h.dispatch(t, outsider, JoinRequest{Room: "other"})
	takeOne(t, outsider)

	if err := h.dispatch(t, a, StartCallRequest{RoomID: "abc", SenderID: a.ID()}); err != nil {
		t.Fatalf("start_call: %v", err)
	}

	for _, p := range []*Peer{b, c} {
		if got, want := takeOne(t, p), (StartCall{SenderID: a.ID()}); got != want {
			t.Fatalf("%s got %#v, want %#v", p.ID(), got, want)
		}
	}
	expectNothing(t, a)
	expectNothing(t, outsider)
}

func TestRouter_StartCallUsesConnectionIDNotClaimedSender(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()
	_ = h.dispatch(t, a, JoinRequest{Room: "abc"})
	takeOne(t, a)
	_ = h.dispatch(t, b, JoinRequest{Room: "abc"})
	takeOne(t, b)

	_ = h.dispatch(t, a, StartCallRequest{RoomID: "abc", SenderID: "spoofed"})
	if got, want := takeOne(t, b), (StartCall{SenderID: a.ID()}); got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestRouter_OfferAnswerAreUnicast(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()
	c := h.registry.Connect()

	// No room membership is required for point-to-point relays.
	if err := h.dispatch(t, a, OfferRequest{RoomID: "abc", SenderID: a.ID(), ReceiverID: b.ID(), SDP: json.RawMessage(`"offer-sdp"`)}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	offer, ok := takeOne(t, b).(Offer)
	if !ok {
		t.Fatalf("expected Offer")
	}
	if string(offer.SDP) != `"offer-sdp"` || offer.SenderID != a.ID() {
		t.Fatalf("offer=%+v", offer)
	}
	expectNothing(t, a)
	expectNothing(t, c)

	if err := h.dispatch(t, b, AnswerRequest{RoomID: "abc", SenderID: b.ID(), ReceiverID: a.ID(), SDP: json.RawMessage(`"x"`)}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	answer, ok := takeOne(t, a).(Answer)
	if !ok {
		t.Fatalf("expected Answer")
	}
	if string(answer.SDP) != `"x"` || answer.SenderID != b.ID() {
		t.Fatalf("answer=%+v", answer)
	}
	expectNothing(t, b)
	expectNothing(t, c)
}

func TestRouter_ICECandidateRelayedVerbatim(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()

	raw := json.RawMessage(`{"roomId":"abc","senderId":"` + a.ID() + `","receiverId":"` + b.ID() + `","label":0,"candidate":"candidate:0 1 UDP 1 192.0.2.1 1 typ host"}`)
	if err := h.dispatch(t, a, ICECandidateRequest{RoomID: "abc", SenderID: a.ID(), ReceiverID: b.ID(), Raw: raw}); err != nil {
		t.Fatalf("ice: %v", err)
	}
	cand, ok := takeOne(t, b).(ICECandidate)
	if !ok {
		t.Fatalf("expected ICECandidate")
	}
	if string(cand.Payload) != string(raw) {
		t.Fatalf("payload=%s, want %s", cand.Payload, raw)
	}
	expectNothing(t, a)
}

func TestRouter_UnknownReceiverIsDeliveryError(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()

	err := h.dispatch(t, a, OfferRequest{ReceiverID: "ghost", SDP: json.RawMessage(`"x"`)})
	var delErr *DeliveryError
	if !errors.As(err, &delErr) {
		t.Fatalf("err=%v, want *DeliveryError", err)
	}
	if !errors.Is(err, ErrReceiverNotFound) {
		t.Fatalf("err=%v, want ErrReceiverNotFound", err)
	}
	if delErr.PeerID != "ghost" || delErr.Type != MessageTypeOffer {
		t.Fatalf("delErr=%+v", delErr)
	}
	expectNothing(t, a)
	if got := h.metrics.Get(metrics.DropReasonReceiverNotFound); got != 1 {
		t.Fatalf("receiver_not_found=%d, want 1", got)
	}
}

func TestRouter_DisconnectShrinksRoom(t *testing.T) {
	h := newRouterHarness(t)
	a := h.registry.Connect()
	b := h.registry.Connect()
	_ = h.dispatch(t, a, JoinRequest{Room: "abc"})
	_ = h.dispatch(t, b, JoinRequest{Room: "abc"})

	before := h.rooms.MemberCount("abc")
	h.registry.Disconnect(b.ID())
	if after := h.rooms.MemberCount("abc"); after != before-1 {
		t.Fatalf("MemberCount after disconnect=%d, want %d", after, before-1)
	}

	// The departed peer no longer receives broadcasts, and offers to it drop.
	if err := h.dispatch(t, a, StartCallRequest{RoomID: "abc"}); err != nil {
		t.Fatalf("start_call: %v", err)
	}
	if err := h.dispatch(t, a, OfferRequest{ReceiverID: b.ID(), SDP: json.RawMessage(`"x"`)}); !errors.Is(err, ErrReceiverNotFound) {
		t.Fatalf("offer to departed peer err=%v, want ErrReceiverNotFound", err)
	}
}

func TestRouter_ConcurrentJoinsOnEmptyRoom(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		h := newRouterHarness(t)
		a := h.registry.Connect()
		b := h.registry.Connect()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, p := range []*Peer{a, b} {
			wg.Add(1)
			go func(p *Peer) {
				defer wg.Done()
				<-start
				_ = h.router.Dispatch(p, JoinRequest{Room: "race"})
			}(p)
		}
		close(start)
		wg.Wait()

		var created, joined int
		for _, p := range []*Peer{a, b} {
			switch takeOne(t, p).(type) {
			case RoomCreated:
				created++
			case RoomJoined:
				joined++
			}
		}
		if created != 1 || joined != 1 {
			t.Fatalf("iteration %d: created=%d joined=%d, want 1/1", iter, created, joined)
		}
	}
}
