package shm

import "fmt"

// Wire is a session's shared-memory ring pair: one ring carries
// requests from client to worker, the other carries responses back.
type Wire struct {
	Request  *Ring
	Response *Ring
}

// NewWire allocates the request/response ring pair for sessionID under
// databaseName, named /dev/shm/<databaseName>-<sessionID>-{req,res}.
func NewWire(databaseName string, sessionID uint64, ringBytes int) (*Wire, error) {
	if ringBytes <= 0 {
		ringBytes = DefaultRingBytes
	}
	req, err := NewRing(fmt.Sprintf("%s-%d-req", databaseName, sessionID), ringBytes)
	if err != nil {
		return nil, err
	}
	resp, err := NewRing(fmt.Sprintf("%s-%d-res", databaseName, sessionID), ringBytes)
	if err != nil {
		req.Close()
		req.Unlink()
		return nil, err
	}
	return &Wire{Request: req, Response: resp}, nil
}

// SendClosing writes the sentinel "session closing" header to the
// response ring, the client-observable signal that the session worker
// is done.
func (w *Wire) SendClosing() error {
	return w.Response.WriteFrame(Header{Length: 0, Slot: SentinelSlot}, nil)
}

// Close unmaps both rings.
func (w *Wire) Close() error {
	err1 := w.Request.Close()
	err2 := w.Response.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Unlink removes both rings' backing files. Callers must Close first.
func (w *Wire) Unlink() error {
	err1 := w.Request.Unlink()
	err2 := w.Response.Unlink()
	if err1 != nil {
		return err1
	}
	return err2
}
