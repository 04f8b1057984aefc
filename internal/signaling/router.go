package signaling

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/room"
)

// Router applies inbound messages to the room table and relays the resulting
// events. It holds no state of its own beyond the table and registry.
//
// Handlers run on the sender's read goroutine. They never block on another
// peer: outbound events are queued and written by each target's writer.
type Router struct {
	registry *Registry
	rooms    *room.Table
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewRouter(registry *Registry, rooms *room.Table, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		rooms:    rooms,
		log:      logger,
		metrics:  m,
	}
}

// Dispatch handles one inbound message from sender.
//
// The returned error, if any, wraps one or more *DeliveryError values; it is
// informational only since delivery is best-effort.
func (rt *Router) Dispatch(sender *Peer, msg Inbound) error {
	rt.metrics.Inc("inbound_" + string(msg.Type()))

	switch m := msg.(type) {
	case JoinRequest:
		return rt.handleJoin(sender, m)
	case StartCallRequest:
		rt.checkSenderID(sender, m.Type(), m.SenderID)
		return rt.handleStartCall(sender, m)
	case OfferRequest:
		rt.checkSenderID(sender, m.Type(), m.SenderID)
		rt.log.Debug("relaying offer", "room_id", m.RoomID, "sender_id", sender.ID(), "receiver_id", m.ReceiverID)
		return rt.deliver(m.ReceiverID, Offer{SDP: m.SDP, SenderID: sender.ID()})
	case AnswerRequest:
		rt.checkSenderID(sender, m.Type(), m.SenderID)
		rt.log.Debug("relaying answer", "room_id", m.RoomID, "sender_id", sender.ID(), "receiver_id", m.ReceiverID)
		return rt.deliver(m.ReceiverID, Answer{SDP: m.SDP, SenderID: sender.ID()})
	case ICECandidateRequest:
		rt.checkSenderID(sender, m.Type(), m.SenderID)
		rt.log.Debug("relaying ice candidate", "room_id", m.RoomID, "sender_id", sender.ID(), "receiver_id", m.ReceiverID)
		return rt.deliver(m.ReceiverID, ICECandidate{Payload: m.Raw})
	default:
		return fmt.Errorf("signaling: no handler for %T", msg)
	}
}

func (rt *Router) handleJoin(sender *Peer, req JoinRequest) error {
	id := sender.ID()

	if prev := sender.Room(); prev != "" && prev != req.Room {
		rt.rooms.RemoveMember(prev, id)
		rt.log.Info("peer left room", "room_id", prev, "peer_id", id)
	}

	created := rt.rooms.Join(req.Room, id)
	sender.setRoom(req.Room)

	if created {
		rt.metrics.Inc(metrics.RoomCreated)
		rt.log.Info("room created", "room_id", req.Room, "peer_id", id)
		return rt.deliver(id, RoomCreated{RoomID: req.Room, PeerID: id})
	}

	rt.metrics.Inc(metrics.RoomJoined)
	rt.log.Info("room joined", "room_id", req.Room, "peer_id", id, "members", rt.rooms.MemberCount(req.Room))
	return rt.deliver(id, RoomJoined{RoomID: req.Room, PeerID: id})
}

func (rt *Router) handleStartCall(sender *Peer, req StartCallRequest) error {
	var errs []error
	for _, member := range rt.rooms.Members(req.RoomID) {
		if member == sender.ID() {
			continue
		}
		if err := rt.deliver(member, StartCall{SenderID: sender.ID()}); err != nil {
			errs = append(errs, err)
		}
	}
	rt.log.Debug("broadcast start_call", "room_id", req.RoomID, "sender_id", sender.ID(), "failed", len(errs))
	return errors.Join(errs...)
}

func (rt *Router) deliver(peerID string, msg Outbound) error {
	p, ok := rt.registry.Lookup(peerID)
	if !ok {
		rt.metrics.Inc(metrics.DropReasonReceiverNotFound)
		return &DeliveryError{PeerID: peerID, Type: msg.Type(), Err: ErrReceiverNotFound}
	}
	if err := p.Enqueue(msg); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			rt.metrics.Inc(metrics.DropReasonSendQueueFull)
		}
		return &DeliveryError{PeerID: peerID, Type: msg.Type(), Err: err}
	}
	rt.metrics.Inc(metrics.Relayed)
	return nil
}

// checkSenderID logs clients that claim a senderId other than their own.
// Outbound events always carry the connection's real id.
func (rt *Router) checkSenderID(sender *Peer, t MessageType, claimed string) {
	if claimed == "" || claimed == sender.ID() {
		return
	}
	rt.log.Warn("senderId does not match connection",
		"type", t,
		"peer_id", sender.ID(),
		"claimed_sender_id", claimed,
	)
}
