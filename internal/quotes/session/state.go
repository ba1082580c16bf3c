package session

// State login/订阅状态机：Connecting → AwaitingLogin → LoggedIn → Subscribed
type State int32

const (
	StateConnecting State = iota
	StateAwaitingLogin
	StateLoggedIn
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateLoggedIn:
		return "logged_in"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}
