package session

// Status 推送给观察者的状态
type Status string

const (
	StatusAlreadyRunning     Status = "already_running"
	StatusStopping           Status = "stopping"
	StatusStarting           Status = "starting"
	StatusConnected          Status = "connected"
	StatusRestarting         Status = "restarting"
	StatusDeleted            Status = "deleted"
	StatusRegistrationFailed Status = "registration_failed"
	StatusAlreadyInProgress  Status = "already_in_progress"
)

// StatusCallback 单次调用的状态回调，detail 可为空
type StatusCallback func(status Status, detail string)

func (cb StatusCallback) emit(status Status, detail string) {
	if cb != nil {
		cb(status, detail)
	}
}

// State 控制器状态
type State int32

const (
	StateStarting State = iota
	StateConnected
	StateClosing
	StateRestarting
	StateDeleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateRestarting:
		return "restarting"
	case StateDeleted:
		return "deleted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
