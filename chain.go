package gemini

import (
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"sort"

	"github.com/sirupsen/logrus"
)

// Chain is an ordered, immutable list of hosts built once per listener
// (spec.md §4.3). Once constructed it is safe to read concurrently without
// locks (spec.md §5, shared-resource policy (i)).
type Chain struct {
	hosts []Host
}

// NewChain starts every host in hosts exactly once, discards (and disposes)
// any host whose Start returns false or panics, then sorts the survivors by
// ascending Priority with the host's concrete type name as a stable
// secondary key (spec.md §3, "Host"; §8 Invariant 7). It returns
// ErrEmptyChain if no host survives.
func NewChain(hosts []Host, log logrus.FieldLogger) (*Chain, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	survivors := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if startHost(h, log) {
			survivors = append(survivors, h)
		} else {
			h.Dispose()
		}
	}

	if len(survivors) == 0 {
		return nil, ErrEmptyChain
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		pi, pj := survivors[i].Priority(), survivors[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return fmt.Sprintf("%T", survivors[i]) < fmt.Sprintf("%T", survivors[j])
	})

	return &Chain{hosts: survivors}, nil
}

func startHost(h Host, log logrus.FieldLogger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("host", fmt.Sprintf("%T", h)).Warnf("host panicked during start: %v", r)
			ok = false
		}
	}()
	return h.Start()
}

// Hosts returns the ordered, surviving hosts. The slice must not be mutated.
func (c *Chain) Hosts() []Host {
	return c.hosts
}

// StopAll calls Stop then Dispose on every host in the chain, in chain
// order. The orchestrator uses it when a listener's acceptor fails to start;
// its own shutdown path stops and disposes the hosts directly.
func (c *Chain) StopAll() {
	for _, h := range c.hosts {
		h.Stop()
		h.Dispose()
	}
}

// Dispatch walks the chain per spec.md §4.3: for each host, if Accept
// returns true, Rewrite is called; a declined rewrite (false) terminates the
// request with no response (nil, nil); otherwise Respond is called against
// the (possibly replaced) URL. The first non-declined response wins. If the
// chain is exhausted, a NotFound (51) response is returned.
func (c *Chain) Dispatch(u *url.URL, remote net.Addr, cert *x509.Certificate) (*Response, error) {
	for _, h := range c.hosts {
		if !h.Accept(u, remote, cert) {
			continue
		}

		rewritten, ok := h.Rewrite(u, remote, cert)
		if !ok {
			return nil, nil
		}
		if rewritten != nil {
			u = rewritten
		}

		resp, handled := h.Respond(u, remote, cert)
		if handled {
			return resp, nil
		}
	}

	return NewResponse(StatusNotFound, "Not Found"), nil
}
