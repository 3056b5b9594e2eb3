package main

import (
	"context"
	"log"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"sandboxd/internal/runtime"
)

const reapInterval = 30 * time.Second

// reapIdleSandboxes tears down sandboxes whose pod has outlived the configured
// idle TTL. It runs for the life of the process and covers sessions left
// behind by crashed callers that never issued a delete.
func (s *server) reapIdleSandboxes(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce(ctx)
		}
	}
}

func (s *server) reapOnce(ctx context.Context) {
	ttl := s.cfg.Sandbox.IdleTTL
	if ttl <= 0 {
		return
	}
	pods, err := s.client.CoreV1().Pods(s.cfg.Kubernetes.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + runtime.PodLabel,
	})
	if err != nil {
		log.Printf("reaper list pods: %v", err)
		return
	}
	now := time.Now()
	for _, pod := range pods.Items {
		sid := pod.Labels["session"]
		if sid == "" {
			continue
		}
		age := now.Sub(pod.CreationTimestamp.Time)
		if age <= ttl {
			continue
		}
		log.Printf("reaping idle sandbox session=%s age=%s", sid, age)
		runtime.Teardown(ctx, s.client, s.cfg.Kubernetes.Namespace, sid, false)
		s.reg.delete(sid)
		metricReaped.Add(1)
	}
}
