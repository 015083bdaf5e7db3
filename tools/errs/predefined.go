package errs

// Engine error codes. 12xx are fatal for the current operation, 13xx are
// transient or per-message.
const (
	CodeConfiguration = 1201 // bad endpoint/credentials, no retry
	CodeConnection    = 1301 // transient transport failure, retried up to bound
	CodeRoomNotFound  = 1202 // unknown room id, surfaced immediately
	CodeNotConnected  = 1203 // send attempted while disconnected
	CodeAckTimeout    = 1302 // no server response within the ack window
	CodeServerReject  = 1204 // explicit negative ack with server reason
	CodeInvalidArg    = 1205 // caller-supplied argument failed validation
)

var (
	ErrConfiguration = NewCodeError(CodeConfiguration, "invalid configuration")
	ErrConnection    = NewCodeError(CodeConnection, "connection error")
	ErrRoomNotFound  = NewCodeError(CodeRoomNotFound, "room not found")
	ErrNotConnected  = NewCodeError(CodeNotConnected, "not connected")
	ErrAckTimeout    = NewCodeError(CodeAckTimeout, "acknowledgment timeout")
	ErrServerReject  = NewCodeError(CodeServerReject, "server rejected message")
	ErrInvalidArg    = NewCodeError(CodeInvalidArg, "invalid argument")
)

// IsTimeoutClass reports whether err belongs to the timeout/transient class
// the UI layer may suppress while reconnect attempts are still in flight.
func IsTimeoutClass(err error) bool {
	switch CodeOf(err) {
	case CodeAckTimeout, CodeConnection:
		return true
	}
	return false
}
