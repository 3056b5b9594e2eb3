package runtime

const (
	// PodNamePrefix is prepended to the session id to form the pod name.
	PodNamePrefix = "sandbox-runtime-"
	// PodLabel is the app label shared by all sandbox pods.
	PodLabel = "sandbox-runtime"
)

// Names holds the cluster resource names derived from one session id.
// Derivation is a pure function of the session id so cleanup can recompute
// names without any live orchestrator state, even across process restarts.
type Names struct {
	Pod           string
	Service       string
	EditorService string
	Ingress       string
	PVC           string
	TLSSecret     string
}

func NamesFor(sid string) Names {
	pod := PodNamePrefix + sid
	return Names{
		Pod:           pod,
		Service:       pod + "-svc",
		EditorService: pod + "-svc-code",
		Ingress:       pod + "-ingress-code",
		PVC:           pod + "-pvc",
		TLSSecret:     pod + "-tls-secret",
	}
}
