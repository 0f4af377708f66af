package router

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dbfront/dbfront/internal/session"
)

// This file is the client-side mirror of wire.go: it builds the request
// payloads the session-management bridge's decode* helpers expect, and
// parses the responses encodeEntries/getVariable produce. It exists so
// a process that only talks to the bridge over a real transport (the
// CLI, over the Stream wire) can build and parse the same byte layout
// without duplicating it by hand, the way cmd/dbfrontd's session
// subcommands do.

// ClientEntry mirrors session.Entry for callers outside this process
// that only ever see the bridge's wire encoding, never a live
// *session.Context.
type ClientEntry struct {
	NumericID      uint64
	CorrelationID  string
	Label          string
	Application    string
	User           string
	ConnectionType string
	ConnectionInfo string
	StartTime      time.Time
}

// EncodeGetRequest builds the payload for ServiceSessionGet: the raw
// specifier bytes, unprefixed, matching sessionGet's
// string(req.Payload()) read.
func EncodeGetRequest(specifier string) []byte {
	return []byte(specifier)
}

// EncodeShutdownRequest builds the payload for ServiceSessionShutdown.
func EncodeShutdownRequest(specifier string, kind session.ShutdownKind) []byte {
	out := appendPrefixedString(nil, specifier)
	switch kind {
	case session.ShutdownGraceful:
		out = append(out, 0)
	case session.ShutdownForceful:
		out = append(out, 1)
	default:
		out = append(out, 0)
	}
	return out
}

// EncodeSetVariableRequest builds the payload for
// ServiceSessionSetVariable.
func EncodeSetVariableRequest(specifier, name string, kind session.VariableType, value []byte) []byte {
	out := appendPrefixedString(nil, specifier)
	out = appendPrefixedString(out, name)
	out = append(out, byte(kind))
	out = append(out, value...)
	return out
}

// EncodeGetVariableRequest builds the payload for
// ServiceSessionGetVariable.
func EncodeGetVariableRequest(specifier, name string) []byte {
	out := appendPrefixedString(nil, specifier)
	out = appendPrefixedString(out, name)
	return out
}

// DecodeEntries parses a ServiceSessionList/ServiceSessionGet response
// body built by encodeEntries.
func DecodeEntries(payload []byte) ([]ClientEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("router: truncated entry count")
	}
	count := binary.BigEndian.Uint32(payload[:4])
	rest := payload[4:]
	out := make([]ClientEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 8 {
			return nil, fmt.Errorf("router: truncated entry %d", i)
		}
		entry := ClientEntry{NumericID: binary.BigEndian.Uint64(rest[:8])}
		rest = rest[8:]

		var err error
		entry.Label, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		entry.Application, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		entry.User, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		entry.ConnectionType, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		entry.ConnectionInfo, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		entry.CorrelationID, rest, err = readPrefixedString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 8 {
			return nil, fmt.Errorf("router: truncated start_time for entry %d", i)
		}
		entry.StartTime = time.Unix(0, int64(binary.BigEndian.Uint64(rest[:8])))
		rest = rest[8:]

		out = append(out, entry)
	}
	return out, nil
}

// DecodeVariable parses a ServiceSessionGetVariable response body built
// by getVariable, returning the variable's declared type and its raw
// (still type-encoded) value.
func DecodeVariable(payload []byte) (kind session.VariableType, value []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("router: empty variable response")
	}
	return session.VariableType(payload[0]), payload[1:], nil
}

// DecodeVariableString renders a DecodeVariable result as a display
// string regardless of its declared type.
func DecodeVariableString(kind session.VariableType, value []byte) (string, error) {
	switch kind {
	case session.VariableTypeString:
		s, _, err := readPrefixedString(value)
		return s, err
	case session.VariableTypeInt64:
		if len(value) < 8 {
			return "", fmt.Errorf("router: truncated int64 variable")
		}
		return fmt.Sprintf("%d", int64(binary.BigEndian.Uint64(value[:8]))), nil
	case session.VariableTypeBool:
		if len(value) < 1 {
			return "", fmt.Errorf("router: truncated bool variable")
		}
		return fmt.Sprintf("%t", value[0] != 0), nil
	default:
		return "", fmt.Errorf("router: unknown variable type %d", kind)
	}
}
