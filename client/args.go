package client

import "fmt"

// --------------------------------------------------------------------------
// CLIENT KILL arguments
// --------------------------------------------------------------------------

// KillType selects the class of server-side connections to close.
type KillType uint8

const (
	KillNormal KillType = iota
	KillMaster
	KillReplica
	KillPubsub
)

// token returns the wire token of a KillType.
func (t KillType) token() string {
	switch t {
	case KillMaster:
		return "master"
	case KillReplica:
		return "replica"
	case KillPubsub:
		return "pubsub"
	default:
		return "normal"
	}
}

// killFilterKind discriminates the KillFilter variants.
type killFilterKind uint8

const (
	killByID killFilterKind = iota
	killByType
	killByUser
	killByAddr
	killByLAddr
	killSkipMe
)

// KillFilter is one filter of the CLIENT KILL command. Construct values via
// the KillBy* functions; multiple filters combine conjunctively.
type KillFilter struct {
	kind  killFilterKind
	value string
}

// KillByID filters by the server-assigned client ID.
func KillByID(id string) KillFilter { return KillFilter{kind: killByID, value: id} }

// KillByType filters by connection class.
func KillByType(t KillType) KillFilter { return KillFilter{kind: killByType, value: t.token()} }

// KillByUser filters by authenticated user name.
func KillByUser(user string) KillFilter { return KillFilter{kind: killByUser, value: user} }

// KillByAddr filters by remote address ("ip:port").
func KillByAddr(addr string) KillFilter { return KillFilter{kind: killByAddr, value: addr} }

// KillByLAddr filters by the server's local address the client connected to.
func KillByLAddr(addr string) KillFilter { return KillFilter{kind: killByLAddr, value: addr} }

// KillSkipMe controls whether the calling connection is exempt.
func KillSkipMe(skip bool) KillFilter {
	v := "no"
	if skip {
		v = "yes"
	}
	return KillFilter{kind: killSkipMe, value: v}
}

// args returns the wire token pair of a filter. The switch is exhaustive
// over the filter kinds.
func (f KillFilter) args() (prefix, value string) {
	switch f.kind {
	case killByID:
		return "ID", f.value
	case killByType:
		return "TYPE", f.value
	case killByUser:
		return "USER", f.value
	case killByAddr:
		return "ADDR", f.value
	case killByLAddr:
		return "LADDR", f.value
	case killSkipMe:
		return "SKIPME", f.value
	default:
		panic(fmt.Sprintf("unknown kill filter kind %d", f.kind))
	}
}

// --------------------------------------------------------------------------
// CLIENT PAUSE / REPLY / UNBLOCK arguments
// --------------------------------------------------------------------------

// PauseKind selects what the CLIENT PAUSE command suspends.
type PauseKind uint8

const (
	PauseWrite PauseKind = iota
	PauseAll
)

// token returns the wire token of a PauseKind.
func (k PauseKind) token() string {
	if k == PauseAll {
		return "ALL"
	}
	return "WRITE"
}

// ReplyFlag is the argument of the CLIENT REPLY command.
type ReplyFlag uint8

const (
	ReplyOn ReplyFlag = iota
	ReplyOff
	ReplySkip
)

// token returns the wire token of a ReplyFlag.
func (f ReplyFlag) token() string {
	switch f {
	case ReplyOff:
		return "OFF"
	case ReplySkip:
		return "SKIP"
	default:
		return "ON"
	}
}

// UnblockFlag is the argument of the CLIENT UNBLOCK command.
type UnblockFlag uint8

const (
	UnblockTimeout UnblockFlag = iota
	UnblockError
)

// token returns the wire token of an UnblockFlag.
func (f UnblockFlag) token() string {
	if f == UnblockError {
		return "ERROR"
	}
	return "TIMEOUT"
}

// Toggle is an ON|OFF flag used with client tracking commands.
type Toggle uint8

const (
	ToggleOff Toggle = iota
	ToggleOn
)

// token returns the wire token of a Toggle.
func (t Toggle) token() string {
	if t == ToggleOn {
		return "ON"
	}
	return "OFF"
}
