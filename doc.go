// Package dbfront implements the execution core of a multi-endpoint
// database front-end server: a work-stealing task scheduler, IPC/Stream/
// Loopback endpoint transports dispatched through a shared router, and a
// session lifecycle manager. Embed it with NewServer, or run it behind
// the cmd/dbfrontd CLI.
package dbfront
