package proxy

// SessionPhase tracks where a client sits in the request cycle. The session
// is owned by the event loop that registered the socket; phases are plain
// fields, never shared across loops.
type SessionPhase int

const (
	PhaseAwaitClientBytes SessionPhase = iota
	PhaseAwaitBackendReply
	PhaseStreamingBackendToClient
	PhaseClosing
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseAwaitClientBytes:
		return "AWAIT_CLIENT_BYTES"
	case PhaseAwaitBackendReply:
		return "AWAIT_BACKEND_REPLY"
	case PhaseStreamingBackendToClient:
		return "STREAMING_BACKEND_TO_CLIENT"
	case PhaseClosing:
		return "CLOSING"
	default:
		return "INVALID"
	}
}

// Session is the per-client state held for one proxied TCP connection.
type Session struct {
	Id    string
	phase SessionPhase
	// key is the client address, reused as the replica-affinity hash key so
	// the hot path never converts strings.
	key []byte
}

func NewSession(id string) *Session {
	return &Session{
		Id:    id,
		phase: PhaseAwaitClientBytes,
		key:   []byte(id),
	}
}

func (s *Session) Phase() SessionPhase {
	return s.phase
}
