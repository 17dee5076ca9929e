package wire

// ProtocolVersion is this build's wire protocol version. It is sent by
// both sides during the handshake (§4.3 Connect); the requests that
// follow carry no version field, and the client uses the server's
// version to decide which opcodes it may send.
const ProtocolVersion uint32 = 3

// MinProtocolVersion is the oldest client version this daemon accepts.
// A handshake below this version is rejected with a negative reply.
const MinProtocolVersion uint32 = 2

// RejectVersion is the negative sentinel the server writes in place of
// its own version when refusing a handshake.
const RejectVersion int32 = -1
