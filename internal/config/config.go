// Package config loads the sandboxd configuration from an optional YAML file
// named by SANDBOX_CONFIG, applies SANDBOX_* environment overrides, and fills
// in defaults. The result is a plain struct handed to the components that
// need it; nothing reads configuration globally after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"

	"sandboxd/internal/artifactory"
)

type Config struct {
	Kubernetes  Kubernetes         `yaml:"kubernetes"`
	Sandbox     Sandbox            `yaml:"sandbox"`
	Artifactory artifactory.Config `yaml:"artifactory"`
}

// Kubernetes controls the shape of the cluster resources created per session.
// Pointer fields are tri-state: nil leaves the cluster default in place.
type Kubernetes struct {
	Namespace             string `yaml:"namespace"`
	IngressDomain         string `yaml:"ingress_domain"`
	PVCStorageSize        string `yaml:"pvc_storage_size"`
	PVCStorageClass       string `yaml:"pvc_storage_class"`
	ResourceCPURequest    string `yaml:"resource_cpu_request"`
	ResourceMemoryRequest string `yaml:"resource_memory_request"`
	ResourceMemoryLimit   string `yaml:"resource_memory_limit"`
	ImagePullSecret       string `yaml:"image_pull_secret"`
	IngressTLSSecret      string `yaml:"ingress_tls_secret"`
	NodeSelectorKey       string `yaml:"node_selector_key"`
	NodeSelectorVal       string `yaml:"node_selector_val"`
	TolerationsYAML       string `yaml:"tolerations_yaml"`

	Privileged               bool   `yaml:"privileged"`
	AllowPrivilegeEscalation *bool  `yaml:"allow_privilege_escalation"`
	ReadOnlyRootFilesystem   *bool  `yaml:"read_only_root_filesystem"`
	RunAsNonRoot             *bool  `yaml:"run_as_non_root"`
	RunAsUser                *int64 `yaml:"run_as_user"`
	RunAsGroup               *int64 `yaml:"run_as_group"`

	MountTmpEmptyDir          bool   `yaml:"mount_tmp_empty_dir"`
	EnableMemoryDshmVolume    bool   `yaml:"enable_memory_dshm_volume"`
	MemoryDshmVolumeSizeLimit string `yaml:"memory_dshm_volume_size_limit"`

	BindTimeout  time.Duration `yaml:"bind_timeout"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type Sandbox struct {
	Image              string            `yaml:"image"`
	KeepRuntimeAlive   bool              `yaml:"keep_runtime_alive"`
	WorkspaceMountPath string            `yaml:"workspace_mount_path"`
	Debug              bool              `yaml:"debug"`
	StartupEnv         map[string]string `yaml:"startup_env"`
	Plugins            []string          `yaml:"plugins"`
	// IdleTTL enables background reaping of sandboxes whose pod is older
	// than the given duration. Zero disables reaping.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

func Load() (*Config, error) {
	var cfg Config
	if path := os.Getenv("SANDBOX_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	k := &c.Kubernetes
	setString(&k.Namespace, "SANDBOX_NAMESPACE")
	setString(&k.IngressDomain, "SANDBOX_INGRESS_DOMAIN")
	setString(&k.PVCStorageSize, "SANDBOX_PVC_STORAGE_SIZE")
	setString(&k.PVCStorageClass, "SANDBOX_PVC_STORAGE_CLASS")
	setString(&k.ResourceCPURequest, "SANDBOX_CPU_REQUEST")
	setString(&k.ResourceMemoryRequest, "SANDBOX_MEM_REQUEST")
	setString(&k.ResourceMemoryLimit, "SANDBOX_MEM_LIMIT")
	setString(&k.ImagePullSecret, "SANDBOX_IMAGE_PULL_SECRET")
	setString(&k.IngressTLSSecret, "SANDBOX_INGRESS_TLS_SECRET")
	setString(&k.NodeSelectorKey, "SANDBOX_NODE_SELECTOR_KEY")
	setString(&k.NodeSelectorVal, "SANDBOX_NODE_SELECTOR_VAL")
	setString(&k.TolerationsYAML, "SANDBOX_TOLERATIONS_YAML")
	setBool(&k.Privileged, "SANDBOX_PRIVILEGED")
	setBoolPtr(&k.AllowPrivilegeEscalation, "SANDBOX_ALLOW_PRIVILEGE_ESCALATION")
	setBoolPtr(&k.ReadOnlyRootFilesystem, "SANDBOX_READ_ONLY_ROOT_FILESYSTEM")
	setBoolPtr(&k.RunAsNonRoot, "SANDBOX_RUN_AS_NON_ROOT")
	setInt64Ptr(&k.RunAsUser, "SANDBOX_RUN_AS_USER")
	setInt64Ptr(&k.RunAsGroup, "SANDBOX_RUN_AS_GROUP")
	setBool(&k.MountTmpEmptyDir, "SANDBOX_MOUNT_TMP_EMPTY_DIR")
	setBool(&k.EnableMemoryDshmVolume, "SANDBOX_ENABLE_MEMORY_DSHM_VOLUME")
	setString(&k.MemoryDshmVolumeSizeLimit, "SANDBOX_MEMORY_DSHM_VOLUME_SIZE_LIMIT")
	setDuration(&k.BindTimeout, "SANDBOX_BIND_TIMEOUT")
	setDuration(&k.ReadyTimeout, "SANDBOX_READY_TIMEOUT")

	s := &c.Sandbox
	setString(&s.Image, "SANDBOX_IMAGE")
	setBool(&s.KeepRuntimeAlive, "SANDBOX_KEEP_RUNTIME_ALIVE")
	setString(&s.WorkspaceMountPath, "SANDBOX_WORKSPACE_MOUNT_PATH")
	setBool(&s.Debug, "SANDBOX_DEBUG")
	setDuration(&s.IdleTTL, "SANDBOX_IDLE_TTL")
	if s.StartupEnv == nil {
		s.StartupEnv = map[string]string{}
	}
	for _, pair := range os.Environ() {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(key, "SANDBOX_ENV_") {
			continue
		}
		name := strings.TrimPrefix(key, "SANDBOX_ENV_")
		if name == "" {
			continue
		}
		s.StartupEnv[name] = val
	}

	a := &c.Artifactory
	setString(&a.Host, "SANDBOX_ARTIFACTORY_HOST")
	setString(&a.APIKey, "SANDBOX_ARTIFACTORY_API_KEY")
	setString(&a.ServerID, "SANDBOX_ARTIFACTORY_SERVER_ID")
}

func (c *Config) applyDefaults() {
	k := &c.Kubernetes
	if k.Namespace == "" {
		k.Namespace = "default"
	}
	if k.IngressDomain == "" {
		k.IngressDomain = "localhost"
	}
	if k.PVCStorageSize == "" {
		k.PVCStorageSize = "2Gi"
	}
	if k.ResourceCPURequest == "" {
		k.ResourceCPURequest = "1"
	}
	if k.ResourceMemoryRequest == "" {
		k.ResourceMemoryRequest = "1Gi"
	}
	if k.ResourceMemoryLimit == "" {
		k.ResourceMemoryLimit = "2Gi"
	}
	if k.BindTimeout <= 0 {
		k.BindTimeout = 120 * time.Second
	}
	if k.ReadyTimeout <= 0 {
		k.ReadyTimeout = 300 * time.Second
	}
	s := &c.Sandbox
	if s.WorkspaceMountPath == "" {
		s.WorkspaceMountPath = "/workspace"
	}
	a := &c.Artifactory
	if a.ServerID == "" {
		a.ServerID = artifactory.DefaultServerID
	}
}

func (c *Config) validate() error {
	if c.Sandbox.Image == "" {
		return fmt.Errorf("config: sandbox image is required (sandbox.image or SANDBOX_IMAGE)")
	}
	// Quantities feed straight into manifest construction, so a malformed
	// value must be rejected here instead of panicking mid-provision.
	k := &c.Kubernetes
	quantities := []struct{ key, value string }{
		{"kubernetes.pvc_storage_size", k.PVCStorageSize},
		{"kubernetes.resource_cpu_request", k.ResourceCPURequest},
		{"kubernetes.resource_memory_request", k.ResourceMemoryRequest},
		{"kubernetes.resource_memory_limit", k.ResourceMemoryLimit},
		{"kubernetes.memory_dshm_volume_size_limit", k.MemoryDshmVolumeSizeLimit},
	}
	for _, q := range quantities {
		if q.value == "" {
			continue
		}
		if _, err := resource.ParseQuantity(q.value); err != nil {
			return fmt.Errorf("config: %s %q: %w", q.key, q.value, err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := parseBoolEnv(key); ok {
		*dst = v
	}
}

func setBoolPtr(dst **bool, key string) {
	if v, ok := parseBoolEnv(key); ok {
		*dst = &v
	}
}

func setInt64Ptr(dst **int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = &n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func parseBoolEnv(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}
