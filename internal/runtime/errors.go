package runtime

import (
	"errors"
	"fmt"
)

// ErrDisconnected is the single externally visible failure for a sandbox that
// could not be provisioned, attached, or kept healthy. The original cause is
// wrapped and carried in the message.
var ErrDisconnected = errors.New("runtime disconnected")

// FailureCategory classifies a fatal resource condition.
type FailureCategory string

const (
	FailureScheduling       FailureCategory = "scheduling"
	FailureImagePull        FailureCategory = "image_pull"
	FailureContainerRuntime FailureCategory = "container_runtime"
	FailureContainerOOM     FailureCategory = "container_oom"
	FailureVolumeBind       FailureCategory = "volume_bind"
)

// ResourceError is a fatal classification of a cluster resource's status:
// which resource, what category of failure, and the raw detail observed.
type ResourceError struct {
	Kind     string
	Name     string
	Category FailureCategory
	Detail   string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s encountered an unrecoverable error (%s): %s",
		e.Kind, e.Name, e.Category, e.Detail)
}

func disconnected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDisconnected, fmt.Sprintf(format, args...))
}
