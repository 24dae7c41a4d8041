package round

// CommandType is a transport command issued to the player.
type CommandType int

const (
	CommandPlay CommandType = iota
	CommandPause
	CommandSkip
)

// String returns the string representation of the command type.
func (c CommandType) String() string {
	switch c {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Command is a single transport command. Seq orders commands within a session.
type Command struct {
	Type CommandType
	Seq  uint64
}

// Dispatcher receives commands from the machine. Dispatch must not block.
type Dispatcher interface {
	Dispatch(cmd Command)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(cmd Command)

// Dispatch calls f(cmd).
func (f DispatcherFunc) Dispatch(cmd Command) {
	f(cmd)
}
