package runtime

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Teardown deletes the session's cluster resources by recomputing their names
// from the session id alone. Every delete is independently best-effort: a
// missing resource is fine, and one failed delete never blocks the rest.
// The workspace volume survives unless removeVolume is set.
func Teardown(ctx context.Context, client kubernetes.Interface, namespace, sid string, removeVolume bool) {
	names := NamesFor(sid)
	log.Printf("tearing down session=%s namespace=%s remove_volume=%t", sid, namespace, removeVolume)

	deleteResource("ingress", names.Ingress, func() error {
		return client.NetworkingV1().Ingresses(namespace).Delete(ctx, names.Ingress, metav1.DeleteOptions{})
	})
	deleteResource("service", names.EditorService, func() error {
		return client.CoreV1().Services(namespace).Delete(ctx, names.EditorService, metav1.DeleteOptions{})
	})
	deleteResource("service", names.Service, func() error {
		return client.CoreV1().Services(namespace).Delete(ctx, names.Service, metav1.DeleteOptions{})
	})
	deleteResource("pod", names.Pod, func() error {
		return client.CoreV1().Pods(namespace).Delete(ctx, names.Pod, metav1.DeleteOptions{})
	})
	if removeVolume {
		deleteResource("pvc", names.PVC, func() error {
			return client.CoreV1().PersistentVolumeClaims(namespace).Delete(ctx, names.PVC, metav1.DeleteOptions{})
		})
	}
}

func deleteResource(kind, name string, del func() error) {
	err := del()
	switch {
	case err == nil:
		log.Printf("deleted %s name=%s", kind, name)
	case apierrors.IsNotFound(err):
	default:
		log.Printf("delete %s name=%s failed: %v", kind, name, err)
	}
}

// Janitor is the process-wide shutdown safety net. It remembers the most
// recently active session and removes that session's resources, volume
// included, when the process is interrupted. It is a coarse net for ungraceful
// exits, not a substitute for per-session cleanup.
type Janitor struct {
	client kubernetes.Interface

	mu        sync.Mutex
	namespace string
	sid       string

	installOnce sync.Once
}

func NewJanitor(client kubernetes.Interface) *Janitor {
	return &Janitor{client: client}
}

// Track records the session a subsequent shutdown should clean up.
func (j *Janitor) Track(namespace, sid string) {
	j.mu.Lock()
	j.namespace, j.sid = namespace, sid
	j.mu.Unlock()
}

// CleanupLast tears down the most recently tracked session, volume included.
func (j *Janitor) CleanupLast(ctx context.Context) {
	j.mu.Lock()
	namespace, sid := j.namespace, j.sid
	j.mu.Unlock()
	if sid == "" {
		return
	}
	Teardown(ctx, j.client, namespace, sid, true)
}

// Install registers the interrupt handler exactly once regardless of how many
// sessions the process serves. After cleanup the process exits.
func (j *Janitor) Install() {
	j.installOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-ch
			log.Printf("received signal=%s, cleaning up last session", sig)
			j.CleanupLast(context.Background())
			os.Exit(1)
		}()
	})
}
