package stream

import (
	"encoding/binary"
	"io"

	"github.com/dbfront/dbfront/internal/coreerr"
)

// handshakeInfo is the client metadata carried by the single
// handshake request/response exchange.
type handshakeInfo struct {
	label       string
	application string
	user        string
}

// readHandshake reads the client's single handshake frame and decodes
// its metadata. The payload is {label_len byte, label, app_len byte,
// app, user_len byte, user}.
func readHandshake(c *conn) (handshakeInfo, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(c.nc, header); err != nil {
		return handshakeInfo{}, coreerr.ErrHandshakeFailed
	}
	if binary.BigEndian.Uint16(header[0:2]) != controlHandshake {
		return handshakeInfo{}, coreerr.ErrHandshakeFailed
	}
	length := binary.BigEndian.Uint32(header[2:6])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			return handshakeInfo{}, coreerr.ErrHandshakeFailed
		}
	}
	return decodeHandshake(payload)
}

func decodeHandshake(payload []byte) (handshakeInfo, error) {
	info := handshakeInfo{}
	rest := payload
	for _, dst := range []*string{&info.label, &info.application, &info.user} {
		if len(rest) < 1 {
			return handshakeInfo{}, coreerr.ErrHandshakeFailed
		}
		n := int(rest[0])
		rest = rest[1:]
		if len(rest) < n {
			return handshakeInfo{}, coreerr.ErrHandshakeFailed
		}
		*dst = string(rest[:n])
		rest = rest[n:]
	}
	return info, nil
}

func encodeHandshakeRequest(info handshakeInfo) []byte {
	parts := []string{info.label, info.application, info.user}
	total := 0
	for _, p := range parts {
		total += 1 + len(p)
	}
	b := make([]byte, 0, total)
	for _, p := range parts {
		b = append(b, byte(len(p)))
		b = append(b, p...)
	}
	return b
}

// writeHandshakeResponse replies with the assigned session id, or an
// empty payload on failure (the caller closes the connection either way).
func writeHandshakeResponse(c *conn, sessionID uint64, ok bool) error {
	if !ok {
		return c.writeFrame(controlHandshake, nil)
	}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, sessionID)
	return c.writeFrame(controlHandshake, payload)
}

// readHandshakeResponse is writeHandshakeResponse's client-side
// counterpart, used by DialAdmin.
func readHandshakeResponse(c *conn) (sessionID uint64, ok bool, err error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(c.nc, header); err != nil {
		return 0, false, coreerr.ErrHandshakeFailed
	}
	if binary.BigEndian.Uint16(header[0:2]) != controlHandshake {
		return 0, false, coreerr.ErrHandshakeFailed
	}
	length := binary.BigEndian.Uint32(header[2:6])
	if length == 0 {
		return 0, false, coreerr.ErrHandshakeFailed
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.nc, payload); err != nil {
		return 0, false, coreerr.ErrHandshakeFailed
	}
	if length < 8 {
		return 0, false, coreerr.ErrHandshakeFailed
	}
	return binary.BigEndian.Uint64(payload), true, nil
}
