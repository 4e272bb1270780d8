package fedcomm

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// Default and auto-assignment port ranges for the stream transport.
// Allocation within a process is monotonic and tracked in usedPorts so
// the same port is never handed out twice in the lifetime of a
// process (§8 "the usedPortNumbers set never yields the same port
// twice"). subBrokerPortRangeOffset mirrors the teacher's 100-port gap
// between the top-level and sub-broker ranges (24228 vs 24328 as
// shipped by DefaultConfig); a caller-supplied Config.PortStart shifts
// both ranges by the same amount rather than just the top-level one.
const (
	DefaultBrokerPort        = 24160
	PortRangeStart           = 24228 // top-level endpoints, absent an explicit Config.PortStart
	SubBrokerPortRangeStart  = 24328 // endpoints that themselves have a parent broker
	subBrokerPortRangeOffset = SubBrokerPortRangeStart - PortRangeStart
	portUnknown              = -1
)

// portAllocator hands out monotonically increasing ports from one of
// two ranges rooted at topStart/topStart+subBrokerPortRangeOffset,
// tracking everything it has already given out so a bind-retry
// (auto-assigned port failed to bind) never repeats a choice.
type portAllocator struct {
	mu       sync.Mutex
	topStart int
	subStart int
	next     map[int]int // range start -> next candidate
	usedPort map[int]bool
}

// newPortAllocator roots the top-level range at base (Config.PortStart)
// and the sub-broker range subBrokerPortRangeOffset above it.
func newPortAllocator(base int) *portAllocator {
	sub := base + subBrokerPortRangeOffset
	return &portAllocator{
		topStart: base,
		subStart: sub,
		next:     map[int]int{base: base, sub: sub},
		usedPort: make(map[int]bool),
	}
}

// allocate returns the next unused port in the range starting at
// rangeStart (as returned by topLevelRangeStart/subBrokerRangeStart).
func (a *portAllocator) allocate(rangeStart int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.next[rangeStart]
	for a.usedPort[p] {
		p++
	}
	a.usedPort[p] = true
	a.next[rangeStart] = p + 1
	return p
}

// topLevelRangeStart and subBrokerRangeStart report this allocator's
// two range bases, already shifted by Config.PortStart.
func (a *portAllocator) topLevelRangeStart() int { return a.topStart }
func (a *portAllocator) subBrokerRangeStart() int { return a.subStart }

// reserve marks p as used without allocating from a range, e.g. when a
// preassigned PortNumber is configured directly.
func (a *portAllocator) reserve(p int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usedPort[p] = true
}

// stripTransportPrefix removes a "<scheme>://" prefix from addr, if
// present, per §6's "the transport prefix is stripped before use".
func stripTransportPrefix(addr string) string {
	if idx := strings.Index(addr, "://"); idx >= 0 {
		return addr[idx+3:]
	}
	return addr
}

// IsLocalhost reports whether ipStr (optionally "host:port") names
// this machine's loopback address, used by the stream transport to
// decide whether to bind "localhost" literally rather than "0.0.0.0".
func IsLocalhost(ipStr string) (isLocal bool, hostOnlyNoPort string) {
	host, _, err := net.SplitHostPort(ipStr)
	if err == nil {
		ipStr = host
	}
	hostOnlyNoPort = ipStr
	if strings.EqualFold(ipStr, "localhost") {
		return true, hostOnlyNoPort
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false, hostOnlyNoPort
	}
	isLocal = ip.IsLoopback()
	return isLocal, hostOnlyNoPort
}

// splitInterfacePort parses a "interface:port" NEW_ROUTE payload, the
// shape used by the stream transport (§4.3). The queue transport's
// NEW_ROUTE payload is a plain queue name and does not go through here.
func splitInterfacePort(payload string) (iface string, port int, err error) {
	host, portStr, splitErr := net.SplitHostPort(payload)
	if splitErr != nil {
		return "", 0, fmt.Errorf("fedcomm: malformed NEW_ROUTE payload %q", payload)
	}
	if _, scanErr := fmt.Sscanf(portStr, "%d", &port); scanErr != nil {
		return "", 0, fmt.Errorf("fedcomm: malformed NEW_ROUTE payload %q", payload)
	}
	return host, port, nil
}
