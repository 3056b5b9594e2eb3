// Package runtime provisions and supervises one isolated execution sandbox
// per session on a Kubernetes cluster: a pod running the action execution
// server, a persistent workspace volume, two services, and an ingress for the
// in-browser editor.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"sandboxd/internal/artifactory"
	"sandboxd/internal/config"
	"sandboxd/internal/poll"
)

const (
	// ControlPort is where the action execution server listens.
	ControlPort = 8080
	// EditorPort serves the in-browser code editor.
	EditorPort = 8081
)

// Default application ports exposed for the agent to publish services on.
var defaultAppPorts = []int{30082, 30083}

// Options configures one runtime handle. The zero value provisions a fresh
// sandbox and tears it down on failure.
type Options struct {
	// AttachExisting requires a pre-existing pod: absence is reported as
	// disconnection and no resources are ever created.
	AttachExisting bool
	// KeepAlive preserves all session resources after failures and on close,
	// for debugging.
	KeepAlive bool
	Debug     bool
	Env       map[string]string
	Plugins   []string
	Status    StatusFunc
}

// Runtime drives the cluster resources for a single session. Exactly one
// provisioning sequence runs per session for the lifetime of the handle; all
// mutating calls are issued sequentially.
type Runtime struct {
	client     kubernetes.Interface
	k8sCfg     config.Kubernetes
	sandboxCfg config.Sandbox
	sid        string
	names      Names
	opts       Options

	image         string
	plugins       []string
	startupEnv    map[string]string
	setupCommands []string
	appPorts      []int
}

// New builds a runtime handle for the session. The cluster client is injected
// and shared across sessions; it is never constructed here.
func New(client kubernetes.Interface, cfg *config.Config, sid string, opts Options) *Runtime {
	startupEnv := map[string]string{}
	for k, v := range cfg.Sandbox.StartupEnv {
		startupEnv[k] = v
	}
	for k, v := range opts.Env {
		startupEnv[k] = v
	}
	plugins := opts.Plugins
	if len(plugins) == 0 {
		plugins = cfg.Sandbox.Plugins
	}
	var setup []string
	if cfg.Artifactory.Configured() {
		commands := cfg.Artifactory.RepositoryCommands()
		// A declared repository ecosystem narrows setup to the matching
		// registry; otherwise every configured registry is wired up.
		if want := artifactory.RepositoryType(startupEnv["REPO_TYPE"]); want != "" {
			if cmd, ok := commands[want]; ok {
				commands = map[artifactory.RepositoryType]string{want: cmd}
			}
		}
		for _, repoType := range sortedRepoTypes(commands) {
			setup = append(setup, commands[repoType])
		}
	}
	return &Runtime{
		client:        client,
		k8sCfg:        cfg.Kubernetes,
		sandboxCfg:    cfg.Sandbox,
		sid:           sid,
		names:         NamesFor(sid),
		opts:          opts,
		image:         cfg.Sandbox.Image,
		plugins:       plugins,
		startupEnv:    startupEnv,
		setupCommands: setup,
		appPorts:      defaultAppPorts,
	}
}

func (r *Runtime) SID() string { return r.sid }

// Connect attaches to the session's pod, provisioning the full resource set
// first when it does not exist. It blocks until the sandbox is ready or a
// terminal failure is classified, and must be called off any latency-sensitive
// path: every step is a blocking cluster API call.
func (r *Runtime) Connect(ctx context.Context) error {
	log.Printf("connecting runtime session=%s attach=%t", r.sid, r.opts.AttachExisting)
	r.setStatus(StatusStarting, "")

	pod, err := r.client.CoreV1().Pods(r.k8sCfg.Namespace).Get(ctx, r.names.Pod, metav1.GetOptions{})
	switch {
	case err == nil:
		// A pre-existing pod in a fatal state must abort the attach rather
		// than silently falling through to fresh provisioning.
		if ferr := ClassifyPod(pod); ferr != nil {
			return r.fail(ctx, ferr)
		}
		log.Printf("attached to pod name=%s phase=%s", r.names.Pod, pod.Status.Phase)
	case apierrors.IsNotFound(err):
		if r.opts.AttachExisting {
			derr := disconnected("pod %s not found", r.names.Pod)
			r.setStatus(StatusDisconnected, derr.Error())
			return derr
		}
		log.Printf("no existing pod, provisioning session=%s image=%s", r.sid, r.image)
		if err := r.provision(ctx); err != nil {
			return err
		}
	default:
		return r.fail(ctx, fmt.Errorf("read pod %s: %w", r.names.Pod, err))
	}

	if err := r.waitUntilReady(ctx); err != nil {
		return r.fail(ctx, err)
	}
	log.Printf("runtime ready session=%s api_url=%s", r.sid, r.APIURL())
	r.setStatus(StatusReady, "")
	return nil
}

// provision creates the session's resource set in dependency order, waiting
// for each resource to become usable before the next depends on it.
func (r *Runtime) provision(ctx context.Context) error {
	if err := r.ensurePVC(ctx); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.waitForPVCBound(ctx); err != nil {
		return r.fail(ctx, err)
	}

	if _, err := r.client.CoreV1().Pods(r.k8sCfg.Namespace).Create(ctx, r.podManifest(), metav1.CreateOptions{}); err != nil {
		return r.fail(ctx, fmt.Errorf("create pod %s: %w", r.names.Pod, err))
	}
	log.Printf("created pod name=%s namespace=%s", r.names.Pod, r.k8sCfg.Namespace)

	if err := r.waitUntilScheduled(ctx); err != nil {
		return r.fail(ctx, err)
	}

	for _, svc := range []*corev1.Service{r.serviceManifest(), r.editorServiceManifest()} {
		if _, err := r.client.CoreV1().Services(r.k8sCfg.Namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
			return r.fail(ctx, fmt.Errorf("create service %s: %w", svc.Name, err))
		}
		log.Printf("created service name=%s", svc.Name)
	}

	if _, err := r.client.NetworkingV1().Ingresses(r.k8sCfg.Namespace).Create(ctx, r.ingressManifest(), metav1.CreateOptions{}); err != nil {
		return r.fail(ctx, fmt.Errorf("create ingress %s: %w", r.names.Ingress, err))
	}
	log.Printf("created ingress name=%s host=%s", r.names.Ingress, r.IngressHost())
	return nil
}

func (r *Runtime) ensurePVC(ctx context.Context) error {
	_, err := r.client.CoreV1().PersistentVolumeClaims(r.k8sCfg.Namespace).Get(ctx, r.names.PVC, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("read pvc %s: %w", r.names.PVC, err)
	}
	if _, err := r.client.CoreV1().PersistentVolumeClaims(r.k8sCfg.Namespace).Create(ctx, r.pvcManifest(), metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("create pvc %s: %w", r.names.PVC, err)
	}
	log.Printf("created pvc name=%s size=%s", r.names.PVC, r.k8sCfg.PVCStorageSize)
	return nil
}

func (r *Runtime) waitForPVCBound(ctx context.Context) error {
	return poll.Wait(ctx, r.k8sCfg.BindTimeout, poll.DefaultInterval, func(ctx context.Context) (poll.Result, error) {
		pvc, err := r.client.CoreV1().PersistentVolumeClaims(r.k8sCfg.Namespace).Get(ctx, r.names.PVC, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return poll.Retry, nil
		}
		if err != nil {
			return poll.Retry, fmt.Errorf("read pvc %s: %w", r.names.PVC, err)
		}
		if ferr := ClassifyPVC(pvc); ferr != nil {
			return poll.Retry, ferr
		}
		if pvc.Status.Phase == corev1.ClaimBound {
			return poll.Done, nil
		}
		return poll.Retry, nil
	})
}

func (r *Runtime) waitUntilScheduled(ctx context.Context) error {
	return poll.Wait(ctx, r.k8sCfg.ReadyTimeout, poll.DefaultInterval, func(ctx context.Context) (poll.Result, error) {
		pod, err := r.client.CoreV1().Pods(r.k8sCfg.Namespace).Get(ctx, r.names.Pod, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			// Not visible yet; the create was accepted, keep polling.
			return poll.Retry, nil
		}
		if err != nil {
			return poll.Retry, fmt.Errorf("read pod %s: %w", r.names.Pod, err)
		}
		if ferr := ClassifyPod(pod); ferr != nil {
			return poll.Retry, ferr
		}
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionTrue {
				return poll.Done, nil
			}
		}
		return poll.Retry, nil
	})
}

func (r *Runtime) waitUntilReady(ctx context.Context) error {
	return poll.Wait(ctx, r.k8sCfg.ReadyTimeout, poll.DefaultInterval, func(ctx context.Context) (poll.Result, error) {
		pod, err := r.client.CoreV1().Pods(r.k8sCfg.Namespace).Get(ctx, r.names.Pod, metav1.GetOptions{})
		if err != nil {
			return poll.Retry, fmt.Errorf("read pod %s: %w", r.names.Pod, err)
		}
		if ferr := ClassifyPod(pod); ferr != nil {
			return poll.Retry, ferr
		}
		if pod.Status.Phase == corev1.PodRunning {
			for _, cond := range pod.Status.Conditions {
				if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
					return poll.Done, nil
				}
			}
		}
		return poll.Retry, nil
	})
}

// fail surfaces a terminal provisioning error: report status, tear down any
// partial resources unless keep-alive is requested, and wrap the cause as a
// disconnection.
func (r *Runtime) fail(ctx context.Context, cause error) error {
	if errors.Is(cause, ErrDisconnected) {
		return cause
	}
	log.Printf("runtime failed session=%s err=%v", r.sid, cause)
	r.setStatus(StatusDisconnected, cause.Error())
	if r.opts.KeepAlive {
		log.Printf("keeping resources alive after failure session=%s", r.sid)
	} else {
		Teardown(context.WithoutCancel(ctx), r.client, r.k8sCfg.Namespace, r.sid, false)
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, cause)
}

// Close releases the session. The workspace volume is preserved; resources
// are kept entirely when keep-alive or attach mode asked for that.
func (r *Runtime) Close(ctx context.Context) {
	if r.sandboxCfg.KeepRuntimeAlive || r.opts.KeepAlive || r.opts.AttachExisting {
		log.Printf("keeping runtime alive on close session=%s", r.sid)
		return
	}
	Teardown(ctx, r.client, r.k8sCfg.Namespace, r.sid, false)
}

// IngressHost is the session-specific editor hostname.
func (r *Runtime) IngressHost() string {
	return r.sid + "." + r.k8sCfg.IngressDomain
}

// APIURL is the in-cluster URL of the sandbox control endpoint.
func (r *Runtime) APIURL() string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d", r.names.Service, r.k8sCfg.Namespace, ControlPort)
}

// EditorURL is the externally reachable editor address. The scheme is https
// exactly when a TLS secret is configured for the ingress.
func (r *Runtime) EditorURL(token string) string {
	scheme := "http"
	if r.k8sCfg.IngressTLSSecret != "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/?tkn=%s&folder=%s", scheme, r.IngressHost(), token, r.sandboxCfg.WorkspaceMountPath)
}

// WebHosts maps each application URL to its port, for browser access to
// services the agent starts.
func (r *Runtime) WebHosts() map[string]int {
	hosts := make(map[string]int, len(r.appPorts))
	base := fmt.Sprintf("http://%s.%s.svc.cluster.local", r.names.Service, r.k8sCfg.Namespace)
	for _, port := range r.appPorts {
		hosts[fmt.Sprintf("%s:%d", base, port)] = port
	}
	return hosts
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedRepoTypes(m map[artifactory.RepositoryType]string) []artifactory.RepositoryType {
	keys := make([]artifactory.RepositoryType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
