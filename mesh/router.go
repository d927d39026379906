package mesh

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/user/bluemesh/att"
	"github.com/user/bluemesh/logger"
	"github.com/user/bluemesh/pdu"
	"github.com/user/bluemesh/util"
)

// Send queues msg for delivery. When via names identities that are all in
// range, msg is written to exactly those services, keeping its TTL only for
// the first such service on each device. Otherwise a copy
// carrying broadcastTTL is flooded to every identified peer in range.
// Delivery is best effort.
func (e *Engine) Send(msg *pdu.Message, via []uuid.UUID, broadcastTTL int32) error {
	if err := e.validateOutbound(msg, broadcastTTL); err != nil {
		return err
	}
	msg = msg.Clone()
	via = append([]uuid.UUID(nil), via...)
	if !e.post(func() { e.send(msg, via, broadcastTTL, true) }) {
		return ErrClosed
	}
	return nil
}

// Broadcast floods msg to every identified peer in range with the default TTL
func (e *Engine) Broadcast(msg *pdu.Message) error {
	return e.Send(msg, nil, e.cfg.DefaultTimeToLive)
}

func (e *Engine) validateOutbound(msg *pdu.Message, broadcastTTL int32) error {
	if err := msg.Validate(); err != nil {
		return newError(InvalidMessage, "", err)
	}
	limit := e.maxWriteLength()
	for _, m := range []*pdu.Message{msg, msg.WithTimeToLive(broadcastTTL)} {
		data, err := m.MarshalPDU()
		if err != nil {
			return newError(InvalidMessage, "", err)
		}
		if len(data) > limit {
			return newError(InvalidMessage, "",
				fmt.Errorf("%w: %d bytes exceeds %d", pdu.ErrTooBig, len(data), limit))
		}
	}
	return nil
}

func (e *Engine) send(msg *pdu.Message, via []uuid.UUID, broadcastTTL int32, local bool) {
	e.seen.Add(msg.Identifier)

	if len(via) > 0 && !e.background && e.allInRange(via) {
		for _, identity := range via {
			p, _ := e.registry.hostOf(identity)
			target := identity
			e.registry.enqueue(p, outboundItem{msg: msg, target: &target})
		}
		if local {
			e.metrics.MessageSent("targeted")
		}
		logger.Debug(e.prefix, "queued %s for %d services", util.ShortID(msg.Identifier.String()), len(via))
	} else {
		flood := msg.WithTimeToLive(broadcastTTL)
		targets := e.registry.floodTargets()
		for _, p := range targets {
			e.registry.enqueue(p, outboundItem{msg: flood})
		}
		if local {
			e.metrics.MessageSent("broadcast")
		}
		logger.Debug(e.prefix, "queued %s (ttl %d) for %d peers",
			util.ShortID(msg.Identifier.String()), broadcastTTL, len(targets))
	}
	e.schedule()
}

func (e *Engine) allInRange(identities []uuid.UUID) bool {
	for _, identity := range identities {
		if _, ok := e.registry.hostOf(identity); !ok {
			return false
		}
	}
	return true
}

// flush writes every queued item to the peer. A message carries its TTL
// only to the first service it is written to; the other services on
// the same device get TTL 0 so only one local listener floods onward.
func (e *Engine) flush(p *peer) {
	if !p.identified() {
		return
	}
	items := e.registry.drain(p)
	first := firstTargets(p, items)
	for _, item := range items {
		if item.target != nil {
			pos, ok := p.servicePosition(*item.target)
			if !ok {
				logger.Debug(e.prefix, "%s no longer hosts %s, dropping message",
					p.id, util.ShortID(item.target.String()))
				continue
			}
			msg := item.msg
			if first[msg.Identifier] != pos && msg.TimeToLive != 0 {
				msg = msg.WithTimeToLive(0)
			}
			e.write(p, p.services[pos], msg)
			continue
		}
		for i, s := range p.services {
			msg := item.msg
			if i > 0 && msg.TimeToLive != 0 {
				msg = msg.WithTimeToLive(0)
			}
			e.write(p, s, msg)
		}
	}
}

// firstTargets maps each targeted message to the first of p's services it is
// addressed to
func firstTargets(p *peer, items []outboundItem) map[uuid.UUID]int {
	first := make(map[uuid.UUID]int)
	for _, item := range items {
		if item.target == nil {
			continue
		}
		pos, ok := p.servicePosition(*item.target)
		if !ok {
			continue
		}
		if i, seen := first[item.msg.Identifier]; !seen || pos < i {
			first[item.msg.Identifier] = pos
		}
	}
	return first
}

func (e *Engine) write(p *peer, s RemoteService, msg *pdu.Message) {
	data, err := msg.MarshalPDU()
	if err != nil {
		logger.Error(e.prefix, "failed to encode %s: %v", util.ShortID(msg.Identifier.String()), err)
		return
	}
	p.pendingWrites++
	e.metrics.Write("issued")
	logger.Trace(e.prefix, "writing %s (%d bytes, ttl %d) to %s service %d",
		util.ShortID(msg.Identifier.String()), len(data), msg.TimeToLive, p.id, s.Index)
	e.transport.WriteMessage(p.id, s.Index, data)
}

func (e *Engine) handleWriteComplete(id PeerID, service int) {
	p, ok := e.registry.get(id)
	if !ok || p.pendingWrites == 0 {
		return
	}
	p.pendingWrites--
	e.metrics.Write("completed")
}

func (e *Engine) handleWriteFailed(id PeerID, service int, err error) {
	e.metrics.Write("failed")
	p, ok := e.registry.get(id)
	if !ok || !p.state.active() {
		return
	}
	logger.Warn(e.prefix, "%v", newError(TransportWriteFailure, id, fmt.Errorf("service %d: %w", service, err)))
	e.cancelConnection(p, "write failure")
}

// handleWriteRequests validates an inbound batch as a unit. A single bad
// request rejects the whole batch with one error response.
func (e *Engine) handleWriteRequests(batch []WriteRequest) {
	first := batch[0]
	if !e.started {
		e.transport.RespondToWrite(first, att.ErrUnlikelyError)
		return
	}

	messages := make([]*pdu.Message, 0, len(batch))
	for _, req := range batch {
		if req.Endpoint != EndpointMessage {
			e.reject(first, att.ErrRequestNotSupported,
				newError(UnsupportedRequest, req.Central, fmt.Errorf("write to %s endpoint", req.Endpoint)))
			return
		}
		msg, err := pdu.UnmarshalMessage(req.Value)
		if err != nil {
			e.reject(first, att.ErrInvalidPDU, newError(MalformedInboundPDU, req.Central, err))
			return
		}
		messages = append(messages, msg)
	}

	e.transport.RespondToWrite(first, att.Success)
	for i, msg := range messages {
		e.receive(msg, batch[i].Central)
	}
	e.publishState()
}

func (e *Engine) reject(req WriteRequest, code att.Code, err error) {
	e.metrics.InboundRejected(code.String())
	logger.Warn(e.prefix, "rejecting write batch: %v", err)
	e.transport.RespondToWrite(req, code)
}

func (e *Engine) receive(msg *pdu.Message, from PeerID) {
	if msg.IsControl() {
		e.handleControl(msg, from)
		return
	}
	if !e.seen.Add(msg.Identifier) {
		e.metrics.MessageDuplicate()
		logger.Trace(e.prefix, "duplicate %s from %s dropped", util.ShortID(msg.Identifier.String()), from)
		return
	}

	e.metrics.MessageReceived()
	logger.Debug(e.prefix, "received %s (ttl %d) from %s",
		util.ShortID(msg.Identifier.String()), msg.TimeToLive, from)
	e.emitReceive(msg.Clone(), from)

	// A message that arrives with TTL 0 is delivered but goes no further
	if msg.TimeToLive > 0 {
		e.metrics.MessageReflooded()
		e.send(msg, nil, msg.TimeToLive-1, false)
	}
}
