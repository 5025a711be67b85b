package socks5

import (
	"context"
	"net"

	"socks5gate/internal/reactor"
)

// dnsResult is the block-ready payload handed from the resolver
// goroutine back to the owning session (spec.md §4.3). A nil err with
// an empty addrs slice stands for "resolution failed" exactly as
// spec.md §7 describes for the C original's NULL result list.
type dnsResult struct {
	addrs []net.IPAddr
	err   error
}

// resolveAsync snapshots nothing more than the inputs it needs and
// spawns a detached goroutine that performs the blocking resolution,
// then delivers the result over a one-shot channel. This is spec.md
// §9 Design Note 3's suggested typed one-shot channel standing in for
// the selector's notify_block/fd snapshot dance: the worker never
// touches the session directly, so there is no cross-thread field
// access to reason about.
func resolveAsync(host string) reactor.OneShot[dnsResult] {
	result := reactor.NewOneShot[dnsResult]()
	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
		result.Send(dnsResult{addrs: addrs, err: err})
	}()
	return result
}
