// Package protocol defines the control-plane directives exchanged on the console group.
//
// Every datagram carries exactly one directive as ASCII, space separated tokens:
//
//	add   <node> <frequency> <bandwidth> <ip:port>
//	del   <node> <frequency> <bandwidth>
//	join  <node> <frequency> <bandwidth>
//	leave <node> <frequency> <bandwidth>
//	poll  <node> <frequency> <bandwidth>
//	start
//	stop
//
// <node> must be non-zero except in poll, which anonymous consoles send as node 0.
package protocol

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// NodeID identifies a node on the control group. Zero means "no owner".
type NodeID uint32

// DirectiveType is the verb of a directive.
type DirectiveType uint8

// Directive types.
const (
	DirectiveAdd DirectiveType = iota + 1
	DirectiveDel
	DirectiveJoin
	DirectiveLeave
	DirectivePoll
	DirectiveStart
	DirectiveStop
	// DirectiveList asks a node to reply with its channel table.
	DirectiveList
	// DirectiveNext sets the allocator counter. Only handled by debug builds.
	DirectiveNext
)

// DirectiveTypeMapType maps directive types to their wire verb.
var DirectiveTypeMapType = map[DirectiveType]string{
	DirectiveAdd:   "add",
	DirectiveDel:   "del",
	DirectiveJoin:  "join",
	DirectiveLeave: "leave",
	DirectivePoll:  "poll",
	DirectiveStart: "start",
	DirectiveStop:  "stop",
	DirectiveList:  "list",
	DirectiveNext:  "next",
}

var verbs = func() map[string]DirectiveType {
	m := make(map[string]DirectiveType, len(DirectiveTypeMapType))
	for t, v := range DirectiveTypeMapType {
		m[v] = t
	}
	return m
}()

var (
	// ErrMalformed is returned for datagrams with missing or unparsable fields.
	ErrMalformed = errors.New("malformed directive")
	// ErrUnknownDirective is returned for an unrecognized verb.
	ErrUnknownDirective = errors.New("unknown directive")
)

// IsValidDirectiveType reports whether t is a known directive type.
func IsValidDirectiveType(t DirectiveType) bool {
	_, ok := DirectiveTypeMapType[t]
	return ok
}

func (t DirectiveType) String() string {
	if v, ok := DirectiveTypeMapType[t]; ok {
		return v
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
}

// Channel is a (frequency, bandwidth) pair.
type Channel struct {
	Frequency uint32
	Bandwidth uint32
}

func (c Channel) String() string {
	return fmt.Sprintf("%d,%d", c.Frequency, c.Bandwidth)
}

// Directive is one decoded control-plane message.
type Directive struct {
	Type    DirectiveType
	Node    NodeID
	Channel Channel
	// Address is only meaningful for add. The zero value means unset.
	Address netip.AddrPort
	// Index is only meaningful for next.
	Index uint32
}

// hasChannel reports whether the directive carries node, frequency and bandwidth.
func (t DirectiveType) hasChannel() bool {
	switch t {
	case DirectiveAdd, DirectiveDel, DirectiveJoin, DirectiveLeave, DirectivePoll:
		return true
	}
	return false
}

// FormatAddress renders an endpoint the way it travels on the wire; unset is 0.0.0.0:0.
func FormatAddress(a netip.AddrPort) string {
	if !a.IsValid() {
		return "0.0.0.0:0"
	}
	return a.String()
}

// ParseAddress parses an ip:port token. 0.0.0.0:0 yields the zero (unset) endpoint.
func ParseAddress(s string) (netip.AddrPort, error) {
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: address %q: %v", ErrMalformed, s, err)
	}
	if a.Addr().IsUnspecified() && a.Port() == 0 {
		return netip.AddrPort{}, nil
	}
	return a, nil
}

// Encode renders d as a single datagram payload.
func (d *Directive) Encode() []byte {
	var b strings.Builder
	b.WriteString(d.Type.String())
	switch {
	case d.Type.hasChannel():
		fmt.Fprintf(&b, " %d %d %d", d.Node, d.Channel.Frequency, d.Channel.Bandwidth)
		if d.Type == DirectiveAdd {
			b.WriteByte(' ')
			b.WriteString(FormatAddress(d.Address))
		}
	case d.Type == DirectiveNext:
		fmt.Fprintf(&b, " %d", d.Index)
	}
	return []byte(b.String())
}

func (d *Directive) String() string {
	return string(d.Encode())
}

// Decode parses a datagram payload. Surrounding whitespace and a trailing newline are accepted.
func Decode(b []byte) (*Directive, error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	t, ok := verbs[fields[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirective, fields[0])
	}
	d := &Directive{Type: t}
	args := fields[1:]

	switch {
	case t.hasChannel():
		want := 3
		if t == DirectiveAdd {
			want = 4
		}
		if len(args) != want {
			return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrMalformed, t, want, len(args))
		}
		nums := make([]uint32, 3)
		for i := range nums {
			v, err := strconv.ParseUint(args[i], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %d: %v", ErrMalformed, t, i+1, err)
			}
			nums[i] = uint32(v)
		}
		d.Node = NodeID(nums[0])
		if d.Node == 0 && t != DirectivePoll {
			return nil, fmt.Errorf("%w: %s from node 0", ErrMalformed, t)
		}
		d.Channel = Channel{Frequency: nums[1], Bandwidth: nums[2]}
		if t == DirectiveAdd {
			a, err := ParseAddress(args[3])
			if err != nil {
				return nil, err
			}
			if !a.IsValid() {
				return nil, fmt.Errorf("%w: add without address", ErrMalformed)
			}
			d.Address = a
		}
	case t == DirectiveNext:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: next expects 1 argument, got %d", ErrMalformed, len(args))
		}
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: next index: %v", ErrMalformed, err)
		}
		d.Index = uint32(v)
	default:
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, t)
		}
	}
	return d, nil
}
