package server

import (
	"errors"
	"io"
	"net"

	"github.com/cuemby/stepd/pkg/frame"
	"github.com/cuemby/stepd/pkg/metrics"
	"github.com/cuemby/stepd/pkg/wire"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// peerCredentials returns the connected uid/pid of a Unix-domain
// stream peer via the SO_PEERCRED socket option (spec.md §4.5
// "a socket-option query on the connected stream").
func peerCredentials(conn *net.UnixConn) (uid uint32, pid int32, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return 0, 0, ctrlErr
	}
	if sockErr != nil {
		return 0, 0, sockErr
	}
	return ucred.Uid, ucred.Pid, nil
}

// serveConn runs one connection's full lifetime: the peer-credential
// handshake followed by the opcode request loop (spec.md §4.5). It
// never returns an error — any I/O failure closes the connection and
// the worker simply exits, per spec.md "on any I/O failure, close the
// fd and exit the worker".
func serveConn(core *Core, conn *net.UnixConn, logger zerolog.Logger) {
	defer conn.Close()

	r := frame.NewReader(conn)
	w := frame.NewWriter(conn)

	clientVersion, err := r.ReadUint32()
	if err != nil {
		return
	}

	uid, pid, err := peerCredentials(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("auth_reject: could not read peer credentials")
		_ = w.WriteInt32(wire.RejectVersion)
		return
	}
	if clientVersion < wire.MinProtocolVersion {
		logger.Warn().
			Uint32("peer_uid", uid).
			Int32("peer_pid", pid).
			Uint32("client_version", clientVersion).
			Msg("version_reject: client protocol version too old")
		_ = w.WriteInt32(wire.RejectVersion)
		return
	}
	if err := w.WriteUint32(wire.ProtocolVersion); err != nil {
		return
	}

	connLogger := logger.With().Uint32("peer_uid", uid).Logger()

	for {
		rawOp, err := r.ReadUint32()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return // normal termination
			}
			return
		}
		op := wire.Opcode(rawOp)

		timer := metrics.NewTimer()
		dispatchErr := core.Dispatch(op, uid, r, w)
		timer.ObserveDurationVec(metrics.RequestDuration, op.String())

		result := "ok"
		if dispatchErr != nil {
			result = "error"
		}
		metrics.RequestsTotal.WithLabelValues(op.String(), result).Inc()

		if dispatchErr != nil {
			connLogger.Debug().Str("opcode", op.String()).Err(dispatchErr).Msg("request failed, closing connection")
			return
		}
	}
}
