package plexer

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// channelKey identifies an ingress dispatch target by protocol id and
// the role of the *sender* of the segment.
type channelKey struct {
	protocol   uint16
	fromServer bool
}

// Plexer owns a bearer and multiplexes any number of mini-protocol
// channels over it. Channels must be registered before Spawn; after
// that the registry is frozen.
type Plexer struct {
	bearer *Bearer
	log    *logrus.Entry

	channels map[channelKey]*protocolChannel
	ordered  []*protocolChannel
	spawned  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce    sync.Once
	teardownOnce sync.Once
}

func New(bearer *Bearer) *Plexer {
	return &Plexer{
		bearer:   bearer,
		log:      logrus.WithField("session", uuid.NewString()),
		channels: make(map[channelKey]*protocolChannel),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// UseClientChannel registers a channel on which we drive protocol id as
// the initiator. Inbound segments for it carry the server mode bit.
func (p *Plexer) UseClientChannel(protocol uint16) Channel {
	return p.register(protocol, false)
}

// UseServerChannel registers a channel on which we answer protocol id
// as the responder.
func (p *Plexer) UseServerChannel(protocol uint16) Channel {
	return p.register(protocol, true)
}

func (p *Plexer) register(protocol uint16, asServer bool) Channel {
	if p.spawned {
		panic("plexer: channel registered after spawn")
	}
	// ingress carries segments sent by the peer, i.e. the opposite role
	key := channelKey{protocol: protocol, fromServer: !asServer}
	if _, dup := p.channels[key]; dup {
		panic(fmt.Sprintf("plexer: duplicate channel for protocol %d", protocol))
	}
	ch := &protocolChannel{
		protocol: protocol,
		asServer: asServer,
		egress:   newEgressQueue(),
		ingress:  make(chan []byte, ingressQueueDepth),
		wake:     p.wake,
	}
	p.channels[key] = ch
	p.ordered = append(p.ordered, ch)
	return ch
}

// Spawn starts the muxer and demuxer workers. The channel registry is
// frozen from here on.
func (p *Plexer) Spawn() {
	p.spawned = true
	p.wg.Add(2)
	go p.muxer()
	go p.demuxer()
}

// Close tears the session down: the bearer is closed, both workers
// exit, and every pending channel operation fails with ErrNotConnected.
func (p *Plexer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.bearer.Close()
		p.wg.Wait()
		p.teardown()
	})
	return err
}

// teardown releases every blocked producer and consumer. Runs once, no
// matter which of the close/muxer/demuxer paths gets there first.
func (p *Plexer) teardown() {
	p.teardownOnce.Do(func() {
		for _, ch := range p.ordered {
			ch.egress.close()
			close(ch.ingress)
		}
	})
}

// muxer drains egress queues onto the bearer, one segment per queue
// visit, round-robin across protocols so a chatty protocol cannot
// starve a quiet one. The scan cursor advances past empty queues too.
func (p *Plexer) muxer() {
	defer p.wg.Done()

	if len(p.ordered) == 0 {
		<-p.done
		return
	}

	rr := 0
	for {
		emitted := false
		for range p.ordered {
			ch := p.ordered[rr]
			rr = (rr + 1) % len(p.ordered)
			payload, ok := ch.egress.tryPop()
			if !ok {
				continue
			}
			if err := p.emit(ch, payload); err != nil {
				p.log.WithError(err).Warn("mux write failed")
				_ = p.bearer.Close()
				return
			}
			emitted = true
			break
		}
		if emitted {
			continue
		}
		select {
		case <-p.wake:
		case <-p.done:
			p.drain(rr)
			return
		}
	}
}

// drain is the best-effort flush on shutdown: whatever is already
// queued still goes out, new traffic is rejected by the closed queues.
func (p *Plexer) drain(rr int) {
	for swept := 0; swept < len(p.ordered); {
		ch := p.ordered[rr]
		rr = (rr + 1) % len(p.ordered)
		payload, ok := ch.egress.tryPop()
		if !ok {
			swept++
			continue
		}
		swept = 0
		if err := p.emit(ch, payload); err != nil {
			return
		}
	}
}

func (p *Plexer) emit(ch *protocolChannel, payload []byte) error {
	seg, err := NewSegment(ch.protocol, ch.asServer, p.bearer.ClockMicros(), payload)
	if err != nil {
		return err
	}
	if err := p.bearer.WriteAll(seg.Serialize()); err != nil {
		return err
	}
	label := strconv.Itoa(int(ch.protocol))
	segmentsMuxed.WithLabelValues(label).Inc()
	bytesMuxed.WithLabelValues(label).Add(float64(len(payload)))
	p.log.WithFields(logrus.Fields{"protocol": ch.protocol, "bytes": len(payload)}).Trace("segment muxed")
	return nil
}

// demuxer reads segments off the bearer and fans payloads out to the
// matching ingress queue. A bearer failure ends the session: all
// ingress queues are closed so consumers observe ErrNotConnected.
func (p *Plexer) demuxer() {
	defer p.wg.Done()
	defer p.teardown()

	for {
		seg, err := ParseSegment(p.bearer)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debug("bearer closed by peer")
			} else {
				p.log.WithError(err).Warn("demux read failed")
			}
			_ = p.bearer.Close()
			return
		}

		key := channelKey{protocol: seg.Protocol, fromServer: seg.FromServer}
		ch, ok := p.channels[key]
		if !ok {
			unregisteredSegments.Inc()
			p.log.WithField("protocol", seg.Protocol).Warn("segment for unregistered protocol dropped")
			continue
		}

		label := strconv.Itoa(int(seg.Protocol))
		segmentsDemuxed.WithLabelValues(label).Inc()
		bytesDemuxed.WithLabelValues(label).Add(float64(len(seg.Payload)))

		select {
		case ch.ingress <- seg.Payload:
		case <-p.done:
			return
		}
	}
}
