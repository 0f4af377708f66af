// Package backupsink gives the out-of-scope "datastore backup" service
// named in spec.md §1 a minimal concrete destination: uploading a named
// snapshot blob to an object store. The backup logic itself (what goes
// into the snapshot, when it runs) stays out of this module's scope;
// only the pluggable upload destination is implemented, the same way
// the execution core treats ipc_endpoint/stream_endpoint as pluggable
// transports.
package backupsink

import (
	"context"
	"io"
)

// BackupSink uploads a named snapshot blob to a backing store.
type BackupSink interface {
	// Upload writes body under name, returning the number of bytes written.
	Upload(ctx context.Context, name string, body io.Reader, size int64) (int64, error)
	// Close releases any resources held by the sink.
	Close() error
}
