package runtime

// Status is the caller-visible runtime state. Transitions are one-directional:
// starting to ready, or starting to disconnected. Transient retried errors do
// not change the externally visible status.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusReady        Status = "ready"
	StatusDisconnected Status = "error_disconnected"
)

// StatusFunc receives status transitions with an optional human-readable
// detail message.
type StatusFunc func(status Status, detail string)

func (r *Runtime) setStatus(status Status, detail string) {
	if r.opts.Status != nil {
		r.opts.Status(status, detail)
	}
}
