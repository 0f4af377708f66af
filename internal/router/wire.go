package router

import (
	"encoding/binary"
	"fmt"

	"github.com/dbfront/dbfront/internal/session"
)

// Wire encoding for the session-management bridge's request payloads
// and responses. Every string is a 1-byte length prefix followed by
// its bytes, matching the Stream endpoint's channel-name framing
// convention; multi-field payloads concatenate fields in a fixed order
// with no outer length, since the frame itself already carries the
// total payload length.

func readPrefixedString(b []byte) (value string, rest []byte, err error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("router: truncated length prefix")
	}
	n := int(b[0])
	b = b[1:]
	if len(b) < n {
		return "", nil, fmt.Errorf("router: truncated string")
	}
	return string(b[:n]), b[n:], nil
}

func appendPrefixedString(dst []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

// encodeEntries renders session list/get results as a 4-byte big-endian
// entry count followed by one record per entry: numeric_id (8 bytes
// big-endian), label, application, user, connection_type,
// connection_info, correlation_id (prefixed strings), start_time (unix
// nanos, 8 bytes big-endian).
func encodeEntries(entries []session.Entry) []byte {
	out := make([]byte, 0, len(entries)*32)
	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(entries)))
	out = append(out, count...)
	for _, e := range entries {
		id := make([]byte, 8)
		binary.BigEndian.PutUint64(id, e.NumericID)
		out = append(out, id...)
		out = appendPrefixedString(out, e.Label)
		out = appendPrefixedString(out, e.Application)
		out = appendPrefixedString(out, e.User)
		out = appendPrefixedString(out, string(e.ConnectionType))
		out = appendPrefixedString(out, e.ConnectionInfo)
		out = appendPrefixedString(out, e.CorrelationID.String())
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(e.StartTime.UnixNano()))
		out = append(out, ts...)
	}
	return out
}

// decodeShutdownRequest parses a specifier string followed by a
// 1-byte shutdown kind (0=graceful, 1=forceful).
func decodeShutdownRequest(payload []byte) (specifier string, kind session.ShutdownKind, err error) {
	specifier, rest, err := readPrefixedString(payload)
	if err != nil {
		return "", 0, err
	}
	if len(rest) < 1 {
		return "", 0, fmt.Errorf("router: missing shutdown kind")
	}
	switch rest[0] {
	case 0:
		kind = session.ShutdownGraceful
	case 1:
		kind = session.ShutdownForceful
	default:
		return "", 0, fmt.Errorf("router: unknown shutdown kind %d", rest[0])
	}
	return specifier, kind, nil
}

func decodeSetVariable(payload []byte) (specifier, name string, kind session.VariableType, value []byte, err error) {
	specifier, rest, err := readPrefixedString(payload)
	if err != nil {
		return "", "", 0, nil, err
	}
	name, rest, err = readPrefixedString(rest)
	if err != nil {
		return "", "", 0, nil, err
	}
	if len(rest) < 1 {
		return "", "", 0, nil, fmt.Errorf("router: missing variable type")
	}
	kind = session.VariableType(rest[0])
	return specifier, name, kind, rest[1:], nil
}

func decodeGetVariable(payload []byte) (specifier, name string, err error) {
	specifier, rest, err := readPrefixedString(payload)
	if err != nil {
		return "", "", err
	}
	name, _, err = readPrefixedString(rest)
	return specifier, name, err
}

func setVariable(ctx *session.Context, name string, kind session.VariableType, value []byte) error {
	switch kind {
	case session.VariableTypeString:
		return ctx.SetString(name, string(value))
	case session.VariableTypeInt64:
		if len(value) < 8 {
			return fmt.Errorf("router: truncated int64 variable value")
		}
		return ctx.SetInt64(name, int64(binary.BigEndian.Uint64(value)))
	case session.VariableTypeBool:
		if len(value) < 1 {
			return fmt.Errorf("router: truncated bool variable value")
		}
		return ctx.SetBool(name, value[0] != 0)
	default:
		return fmt.Errorf("router: unknown variable type %d", kind)
	}
}

func getVariable(ctx *session.Context, name string) ([]byte, bool) {
	if s, ok := ctx.GetString(name); ok {
		out := []byte{byte(session.VariableTypeString)}
		return appendPrefixedString(out, s), true
	}
	if i, ok := ctx.GetInt64(name); ok {
		out := []byte{byte(session.VariableTypeInt64)}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(i))
		return append(out, buf...), true
	}
	if b, ok := ctx.GetBool(name); ok {
		v := byte(0)
		if b {
			v = 1
		}
		return []byte{byte(session.VariableTypeBool), v}, true
	}
	return nil, false
}
