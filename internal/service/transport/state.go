package transport

// State 连接状态机: Idle → Connecting → Open → {Closing → Idle, Closed → Connecting}
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connected 仅 Open 状态可以发送消息
func (s State) Connected() bool {
	return s == StateOpen
}

// Key 标识一个逻辑会话连接
type Key struct {
	ClientID string
	ChatID   string
}

func (k Key) String() string {
	return k.ClientID + "-" + k.ChatID
}
