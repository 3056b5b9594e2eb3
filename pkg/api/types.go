package api

type CreateSandboxRequest struct {
	SID       string            `json:"sid"`
	Attach    bool              `json:"attach,omitempty"`
	KeepAlive bool              `json:"keep_alive,omitempty"`
	Debug     bool              `json:"debug,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Plugins   []string          `json:"plugins,omitempty"`
}

type CreateSandboxResponse struct {
	SID       string `json:"sid"`
	Namespace string `json:"namespace"`
	PodName   string `json:"pod_name"`
	APIURL    string `json:"api_url"`
	EditorURL string `json:"editor_url"`
	Status    string `json:"status"`
}

type SandboxStatus struct {
	SID       string `json:"sid"`
	Namespace string `json:"namespace"`
	PodName   string `json:"pod_name"`
	Phase     string `json:"phase,omitempty"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	APIURL    string `json:"api_url"`
	EditorURL string `json:"editor_url"`
}

type DeleteSandboxResponse struct {
	Status string `json:"status"`
}

// StatusEvent is one runtime status transition, streamed over the events
// websocket with a replay of recent transitions on subscribe.
type StatusEvent struct {
	SID    string `json:"sid"`
	Seq    int64  `json:"seq"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Time   string `json:"time"`
}
