package cluster

import (
	"strconv"
	"strings"

	"github.com/ValentinKolb/respKV/common"
)

// --------------------------------------------------------------------------
// Redirection replies
// --------------------------------------------------------------------------

// Redirect is a parsed MOVED or ASK reply.
type Redirect struct {
	// Ask distinguishes a one-shot ASK redirect (migration in progress,
	// must be preceded by an ASKING marker) from a permanent MOVED.
	Ask    bool
	Slot   uint16
	Server common.Server
}

// ParseRedirect parses the message of an error reply of the form
// "MOVED <slot> <host:port>" or "ASK <slot> <host:port>". The second return
// value reports whether the message was a redirection at all.
func ParseRedirect(msg string) (Redirect, bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return Redirect{}, false
	}

	var ask bool
	switch fields[0] {
	case "MOVED":
		ask = false
	case "ASK":
		ask = true
	default:
		return Redirect{}, false
	}

	slot, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil || slot >= SlotCount {
		return Redirect{}, false
	}
	server, err := common.ParseServer(fields[2])
	if err != nil {
		return Redirect{}, false
	}

	return Redirect{Ask: ask, Slot: uint16(slot), Server: server}, true
}
