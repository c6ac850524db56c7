package security

import (
	"fmt"
	"net"
	"strings"
)

// Mode is the network origin policy applied by the checkpoint.
type Mode int

const (
	// AllRestrictedActions only runs allow-listed actions, whatever the origin.
	AllRestrictedActions Mode = iota
	// OnlyLocalRequests only runs requests from this host or a local URI.
	OnlyLocalRequests
	// PartialRestrictedActions runs anything locally and allow-listed actions remotely.
	PartialRestrictedActions
)

func (m Mode) String() string {
	switch m {
	case AllRestrictedActions:
		return "AllRestrictedActions"
	case OnlyLocalRequests:
		return "OnlyLocalRequests"
	case PartialRestrictedActions:
		return "PartialRestrictedActions"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{AllRestrictedActions, OnlyLocalRequests, PartialRestrictedActions} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return OnlyLocalRequests, fmt.Errorf("[ParseMode] unknown security mode %q", s)
}

// Policy configures the checkpoint.
type Policy struct {
	Mode           Mode
	AllowedActions []string
	LocalURIs      []string
}

type checkpoint struct {
	mode       Mode
	allowed    map[string]struct{}
	localURIs  map[string]struct{}
	localAddrs map[string]struct{}
}

func newCheckpoint(p Policy, localAddrs []string) checkpoint {
	c := checkpoint{
		mode:       p.Mode,
		allowed:    toSet(p.AllowedActions),
		localURIs:  toSet(p.LocalURIs),
		localAddrs: make(map[string]struct{}, len(localAddrs)),
	}
	for _, a := range localAddrs {
		if ip := net.ParseIP(stripPort(a)); ip != nil {
			c.localAddrs[ip.String()] = struct{}{}
		}
	}
	return c
}

// denied reports whether the action must be refused for this origin.
func (c checkpoint) denied(action, remoteAddr, uri string) bool {
	_, allowed := c.allowed[action]
	switch c.mode {
	case AllRestrictedActions:
		return !allowed
	case PartialRestrictedActions:
		return !allowed && !c.isLocal(remoteAddr, uri)
	default:
		return !c.isLocal(remoteAddr, uri)
	}
}

func (c checkpoint) isLocal(remoteAddr, uri string) bool {
	if _, ok := c.localURIs[uri]; ok && uri != "" {
		return true
	}
	ip := net.ParseIP(stripPort(remoteAddr))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	_, ok := c.localAddrs[ip.String()]
	return ok
}

func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

// interfaceAddresses lists the addresses bound to this host.
func interfaceAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch v := a.(type) {
		case *net.IPNet:
			out = append(out, v.IP.String())
		case *net.IPAddr:
			out = append(out, v.IP.String())
		}
	}
	return out
}
