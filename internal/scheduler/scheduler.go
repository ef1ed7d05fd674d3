// Package scheduler decides, per shard, whether and how to request a
// probe for a source address observed in a captured packet. It
// consults a short-lived recent-probe dedup cache, then paces dispatch
// with a token-bucket rate limiter. The shard's spoofing belief store
// is held here for the shard worker; Evaluate does not read it.
package scheduler

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/inetrg/spoki/internal/config"
	"github.com/inetrg/spoki/internal/ipaddr"
	"github.com/inetrg/spoki/internal/packet"
	"github.com/inetrg/spoki/internal/probe"
	"github.com/inetrg/spoki/internal/proto"
	"github.com/inetrg/spoki/internal/spoofing"
)

// Scheduler evaluates one shard's incoming packets against its
// recent-probe cache, and holds the shard's belief store.
type Scheduler struct {
	beliefs  *spoofing.RotatingStore
	recent   *gocache.Cache
	limiter  *rate.Limiter
	defaults config.CacheDefaults
}

// New builds a Scheduler backed by a fresh rotating belief store, a
// go-cache instance configured from defaults' cleanup/timeout
// constants, and a token-bucket limiter admitting ratePerSec requests
// per second (bursting up to int(ratePerSec)+1 requests).
func New(defaults config.CacheDefaults, ratePerSec float64) *Scheduler {
	return &Scheduler{
		beliefs:  spoofing.NewRotatingStore(),
		recent:   gocache.New(defaults.EntryTimeout, defaults.CleanupInterval),
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		defaults: defaults,
	}
}

// Beliefs exposes the shard's spoofing belief store, so the shard
// worker that owns this scheduler can record belief updates in it.
func (s *Scheduler) Beliefs() *spoofing.RotatingStore { return s.beliefs }

// probeMethodFor picks the probe method for a packet's protocol,
// based on the observed transport and flags.
func probeMethodFor(p packet.Packet) (proto.ProbeMethod, bool) {
	switch p.Proto {
	case proto.TCP:
		if p.TCP != nil && p.TCP.Syn && !p.TCP.Ack {
			return proto.ProbeTCPSynAck, true
		}
		return proto.ProbeTCPRst, true
	case proto.UDP:
		return proto.ProbeUDP, true
	case proto.ICMP:
		return proto.ProbeICMP, true
	default:
		return 0, false
	}
}

// numProbesFor returns the configured probe count for a method.
func (s *Scheduler) numProbesFor(method proto.ProbeMethod) int {
	switch method {
	case proto.ProbeICMP:
		return s.defaults.ICMPProbes
	case proto.ProbeUDP:
		return s.defaults.UDPProbes
	case proto.ProbeTCPSynAck:
		return s.defaults.TCPSynProbes
	case proto.ProbeTCPRst:
		return s.defaults.TCPRstProbes
	default:
		return 1
	}
}

// dedupKey identifies a (saddr, method) pair in the recent-probe
// cache; probing the same source for the same method twice within the
// entry timeout is suppressed.
func dedupKey(saddr ipaddr.Addr, method proto.ProbeMethod) string {
	return saddr.String() + "|" + method.String()
}

// Evaluate decides whether p's source address should be probed. It
// returns ok=false when the protocol has no probe method, the address
// was probed recently, or the rate limiter has no tokens available
// right now (dispatch is deferred, not queued).
func (s *Scheduler) Evaluate(p packet.Packet) (probe.Request, bool) {
	method, ok := probeMethodFor(p)
	if !ok {
		return probe.Request{}, false
	}

	key := dedupKey(p.Saddr, method)
	if _, found := s.recent.Get(key); found {
		return probe.Request{}, false
	}

	if !s.limiter.Allow() {
		return probe.Request{}, false
	}

	ft := p.FiveTuple()
	req := probe.Request{
		Method:    method,
		Saddr:     p.Saddr,
		Daddr:     p.Daddr,
		Sport:     ft.Dport,
		Dport:     ft.Sport,
		Anum:      probeAnum(p),
		NumProbes: s.numProbesFor(method),
	}
	s.recent.Set(key, struct{}{}, s.defaults.EntryTimeout)
	return req, true
}

// probeAnum derives the acknowledgement number a TCP probe should
// carry: the observed sequence number plus one, acknowledging the SYN.
func probeAnum(p packet.Packet) uint32 {
	if p.Proto == proto.TCP && p.TCP != nil {
		return p.TCP.Seq + 1
	}
	return 0
}

// RotateBeliefs ages the shard's spoofing belief store, keeping at
// most maxGenerations generations.
func (s *Scheduler) RotateBeliefs(maxGenerations int) {
	s.beliefs.Rotate(maxGenerations)
}

// Wait blocks until the limiter admits one more request or ctx is
// done, for a dispatch goroutine that wants to pace rather than drop.
func (s *Scheduler) Wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}
