package runtime

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// Reason strings vary across cluster distributions, so classification layers
// known-bad sets with a keyword fallback on the reason text. The fallback
// widens fatal-detection coverage at the cost of occasional false positives;
// failing fast beats hanging on an allow-list miss.

var podWaitingErrorReasons = map[string]bool{
	"CrashLoopBackOff":           true,
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
	"RunContainerError":          true,
	"InvalidImageName":           true,
}

var podTerminatedErrorReasons = map[string]bool{
	"Error":              true,
	"ContainerCannotRun": true,
	"OOMKilled":          true,
}

var podConditionErrorReasons = map[string]bool{
	"Unschedulable":      true,
	"SchedulingDisabled": true,
}

var pvcErrorPhases = map[corev1.PersistentVolumeClaimPhase]bool{
	corev1.ClaimLost: true,
	"Failed":         true,
}

func reasonLooksFatal(reason string, keywords ...string) bool {
	lower := strings.ToLower(reason)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func waitingCategory(reason string) FailureCategory {
	switch reason {
	case "ErrImagePull", "ImagePullBackOff", "InvalidImageName":
		return FailureImagePull
	}
	if reasonLooksFatal(reason, "pull", "image") {
		return FailureImagePull
	}
	return FailureContainerRuntime
}

// ClassifyPod inspects a pod status snapshot and returns a fatal
// classification, or nil when the pod is healthy or merely not ready yet.
// Checks run in priority order: overall phase, pod conditions, then
// per-container waiting and terminated states.
func ClassifyPod(pod *corev1.Pod) *ResourceError {
	if pod == nil {
		return nil
	}
	name := pod.Name
	status := pod.Status

	if status.Phase == corev1.PodFailed || status.Phase == corev1.PodUnknown {
		detail := fmt.Sprintf("phase=%s", status.Phase)
		if status.Reason != "" {
			detail += ", reason=" + status.Reason
		}
		if status.Message != "" {
			detail += ", message=" + status.Message
		}
		return &ResourceError{Kind: "Pod", Name: name, Category: FailureContainerRuntime, Detail: detail}
	}

	for _, cond := range status.Conditions {
		if podConditionErrorReasons[cond.Reason] {
			return &ResourceError{
				Kind:     "Pod",
				Name:     name,
				Category: FailureScheduling,
				Detail:   fmt.Sprintf("%s reported reason %s: %s", cond.Type, cond.Reason, cond.Message),
			}
		}
		if cond.Status == corev1.ConditionFalse && cond.Reason != "" &&
			reasonLooksFatal(cond.Reason, "error", "fail") {
			return &ResourceError{
				Kind:     "Pod",
				Name:     name,
				Category: FailureContainerRuntime,
				Detail:   fmt.Sprintf("%s condition reported %s: %s", cond.Type, cond.Reason, cond.Message),
			}
		}
	}

	statuses := make([]corev1.ContainerStatus, 0, len(status.InitContainerStatuses)+len(status.ContainerStatuses))
	statuses = append(statuses, status.InitContainerStatuses...)
	statuses = append(statuses, status.ContainerStatuses...)

	for _, cs := range statuses {
		if waiting := cs.State.Waiting; waiting != nil && waiting.Reason != "" {
			if podWaitingErrorReasons[waiting.Reason] ||
				reasonLooksFatal(waiting.Reason, "error", "fail", "backoff") {
				return &ResourceError{
					Kind:     "Container",
					Name:     cs.Name,
					Category: waitingCategory(waiting.Reason),
					Detail:   fmt.Sprintf("waiting due to %s: %s", waiting.Reason, waiting.Message),
				}
			}
		}
		if term := cs.State.Terminated; term != nil {
			if term.ExitCode != 0 {
				detail := term.Message
				if detail == "" {
					detail = term.Reason
				}
				category := FailureContainerRuntime
				if term.Reason == "OOMKilled" {
					category = FailureContainerOOM
				}
				return &ResourceError{
					Kind:     "Container",
					Name:     cs.Name,
					Category: category,
					Detail:   fmt.Sprintf("terminated with exit code %d: %s", term.ExitCode, detail),
				}
			}
			if podTerminatedErrorReasons[term.Reason] {
				category := FailureContainerRuntime
				if term.Reason == "OOMKilled" {
					category = FailureContainerOOM
				}
				return &ResourceError{
					Kind:     "Container",
					Name:     cs.Name,
					Category: category,
					Detail:   fmt.Sprintf("terminated due to %s: %s", term.Reason, term.Message),
				}
			}
		}
	}
	return nil
}

// ClassifyPVC inspects a volume claim status snapshot and returns a fatal
// classification, or nil while the claim is healthy or still pending.
func ClassifyPVC(pvc *corev1.PersistentVolumeClaim) *ResourceError {
	if pvc == nil {
		return nil
	}
	name := pvc.Name
	status := pvc.Status

	if pvcErrorPhases[status.Phase] {
		detail := fmt.Sprintf("phase=%s", status.Phase)
		if len(status.Conditions) > 0 {
			parts := make([]string, 0, len(status.Conditions))
			for _, cond := range status.Conditions {
				msg := cond.Message
				if msg == "" {
					msg = cond.Reason
				}
				parts = append(parts, fmt.Sprintf("%s: %s", cond.Type, msg))
			}
			detail += ", conditions=" + strings.Join(parts, "; ")
		}
		return &ResourceError{Kind: "PersistentVolumeClaim", Name: name, Category: FailureVolumeBind, Detail: detail}
	}

	for _, cond := range status.Conditions {
		if (cond.Reason != "" && reasonLooksFatal(cond.Reason, "error", "fail")) ||
			(cond.Status == corev1.ConditionFalse && reasonLooksFatal(cond.Message, "error", "fail")) {
			reason := cond.Reason
			if reason == "" {
				reason = string(cond.Status)
			}
			return &ResourceError{
				Kind:     "PersistentVolumeClaim",
				Name:     name,
				Category: FailureVolumeBind,
				Detail:   fmt.Sprintf("%s: %s", reason, cond.Message),
			}
		}
	}
	return nil
}
