package runtime

import (
	"log"
	"strconv"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"sandboxd/internal/command"
)

// Readiness probe timings for the in-sandbox control endpoint. These are part
// of the operational contract: a sandbox that cannot answer GET /alive within
// three 10s periods is considered not ready.
const (
	probeInitialDelaySeconds = 5
	probePeriodSeconds       = 10
	probeTimeoutSeconds      = 5
	probeFailureThreshold    = 3
	probeSuccessThreshold    = 1
)

func (r *Runtime) podLabels() map[string]string {
	return map[string]string{"app": PodLabel, "session": r.sid}
}

func (r *Runtime) pvcManifest() *corev1.PersistentVolumeClaim {
	spec := corev1.PersistentVolumeClaimSpec{
		AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		Resources: corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse(r.k8sCfg.PVCStorageSize),
			},
		},
	}
	if r.k8sCfg.PVCStorageClass != "" {
		spec.StorageClassName = &r.k8sCfg.PVCStorageClass
	}
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      r.names.PVC,
			Namespace: r.k8sCfg.Namespace,
		},
		Spec: spec,
	}
}

func (r *Runtime) serviceManifest() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: r.names.Service},
		Spec: corev1.ServiceSpec{
			Selector: r.podLabels(),
			Type:     corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{
				{
					Name:       "execution-server",
					Port:       int32(ControlPort),
					TargetPort: intstr.FromString("http"),
				},
			},
		},
	}
}

func (r *Runtime) editorServiceManifest() *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: r.names.EditorService},
		Spec: corev1.ServiceSpec{
			Selector: r.podLabels(),
			Type:     corev1.ServiceTypeClusterIP,
			Ports: []corev1.ServicePort{
				{
					Name:       "code",
					Port:       int32(EditorPort),
					TargetPort: intstr.FromString("editor"),
				},
			},
		},
	}
}

func (r *Runtime) containerEnv() []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "port", Value: strconv.Itoa(ControlPort)},
		{Name: "PYTHONUNBUFFERED", Value: "1"},
		{Name: "VSCODE_PORT", Value: strconv.Itoa(EditorPort)},
	}
	if r.opts.Debug {
		env = append(env, corev1.EnvVar{Name: "DEBUG", Value: "true"})
	}
	// Mirror the effective security posture so the in-sandbox agent can
	// introspect it.
	if r.k8sCfg.AllowPrivilegeEscalation != nil {
		env = append(env, corev1.EnvVar{
			Name:  "KUBERNETES_ALLOW_PRIVILEGE_ESCALATION",
			Value: strconv.FormatBool(*r.k8sCfg.AllowPrivilegeEscalation),
		})
	}
	if r.k8sCfg.ReadOnlyRootFilesystem != nil {
		env = append(env, corev1.EnvVar{
			Name:  "KUBERNETES_READ_ONLY_ROOT_FILESYSTEM",
			Value: strconv.FormatBool(*r.k8sCfg.ReadOnlyRootFilesystem),
		})
	}
	for _, name := range sortedKeys(r.startupEnv) {
		env = append(env, corev1.EnvVar{Name: name, Value: r.startupEnv[name]})
	}
	if r.k8sCfg.ReadOnlyRootFilesystem != nil && *r.k8sCfg.ReadOnlyRootFilesystem {
		// The root filesystem cannot accept writes: no file logging, and the
		// home directory moves onto the scratch mount when one exists.
		if !envContains(env, "LOG_TO_FILE") {
			env = append(env, corev1.EnvVar{Name: "LOG_TO_FILE", Value: "false"})
		}
		if r.k8sCfg.MountTmpEmptyDir && !envContains(env, "HOME") {
			env = append(env, corev1.EnvVar{Name: "HOME", Value: "/tmp"})
		}
	}
	return env
}

func envContains(env []corev1.EnvVar, name string) bool {
	for _, e := range env {
		if e.Name == name {
			return true
		}
	}
	return false
}

func (r *Runtime) volumes() ([]corev1.Volume, []corev1.VolumeMount) {
	volumes := []corev1.Volume{
		{
			Name: "workspace-volume",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: r.names.PVC,
				},
			},
		},
	}
	mounts := []corev1.VolumeMount{
		{Name: "workspace-volume", MountPath: r.sandboxCfg.WorkspaceMountPath},
	}

	if r.k8sCfg.MountTmpEmptyDir {
		volumes = append(volumes, corev1.Volume{
			Name:         "tmp-emptydir",
			VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "tmp-emptydir", MountPath: "/tmp"})
	}

	if r.k8sCfg.EnableMemoryDshmVolume {
		src := &corev1.EmptyDirVolumeSource{Medium: corev1.StorageMediumMemory}
		if r.k8sCfg.MemoryDshmVolumeSizeLimit != "" {
			limit := resource.MustParse(r.k8sCfg.MemoryDshmVolumeSizeLimit)
			src.SizeLimit = &limit
		}
		volumes = append(volumes, corev1.Volume{
			Name:         "dshm-emptydir",
			VolumeSource: corev1.VolumeSource{EmptyDir: src},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "dshm-emptydir", MountPath: "/dev/shm"})
	}
	return volumes, mounts
}

func (r *Runtime) securityContext() *corev1.SecurityContext {
	// Only explicitly configured fields are set; unset fields must not
	// override cluster defaults. Privileged is always explicit.
	sc := &corev1.SecurityContext{Privileged: &r.k8sCfg.Privileged}
	if r.k8sCfg.AllowPrivilegeEscalation != nil {
		sc.AllowPrivilegeEscalation = r.k8sCfg.AllowPrivilegeEscalation
	}
	if r.k8sCfg.ReadOnlyRootFilesystem != nil {
		sc.ReadOnlyRootFilesystem = r.k8sCfg.ReadOnlyRootFilesystem
	}
	if r.k8sCfg.RunAsNonRoot != nil {
		sc.RunAsNonRoot = r.k8sCfg.RunAsNonRoot
	}
	if r.k8sCfg.RunAsUser != nil {
		sc.RunAsUser = r.k8sCfg.RunAsUser
	}
	if r.k8sCfg.RunAsGroup != nil {
		sc.RunAsGroup = r.k8sCfg.RunAsGroup
	}
	return sc
}

func (r *Runtime) startupCommand() []string {
	opts := command.Options{
		Port:          ControlPort,
		WorkingDir:    r.sandboxCfg.WorkspaceMountPath,
		Plugins:       r.plugins,
		SetupCommands: r.setupCommands,
	}
	if r.k8sCfg.RunAsNonRoot != nil && !*r.k8sCfg.RunAsNonRoot {
		uid := int64(0)
		opts.OverrideUser = "root"
		opts.OverrideUID = &uid
	}
	return command.Startup(opts)
}

// tolerations parses the configured tolerations definition. A malformed
// definition is a configuration problem, not a provisioning failure: it is
// logged and yields no tolerations.
func (r *Runtime) tolerations() []corev1.Toleration {
	if r.k8sCfg.TolerationsYAML == "" {
		return nil
	}
	var tolerations []corev1.Toleration
	if err := yaml.Unmarshal([]byte(r.k8sCfg.TolerationsYAML), &tolerations); err != nil {
		log.Printf("invalid tolerations definition, expected a list: %v", err)
		return nil
	}
	return tolerations
}

func (r *Runtime) nodeSelector() map[string]string {
	if r.k8sCfg.NodeSelectorKey == "" || r.k8sCfg.NodeSelectorVal == "" {
		return nil
	}
	return map[string]string{r.k8sCfg.NodeSelectorKey: r.k8sCfg.NodeSelectorVal}
}

func (r *Runtime) podManifest() *corev1.Pod {
	volumes, mounts := r.volumes()

	ports := []corev1.ContainerPort{
		{ContainerPort: int32(ControlPort), Name: "http"},
		{ContainerPort: int32(EditorPort), Name: "editor"},
	}
	for _, p := range r.appPorts {
		ports = append(ports, corev1.ContainerPort{ContainerPort: int32(p)})
	}

	probe := &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: "/alive",
				Port: intstr.FromInt32(int32(ControlPort)),
			},
		},
		InitialDelaySeconds: probeInitialDelaySeconds,
		PeriodSeconds:       probePeriodSeconds,
		TimeoutSeconds:      probeTimeoutSeconds,
		SuccessThreshold:    probeSuccessThreshold,
		FailureThreshold:    probeFailureThreshold,
	}

	container := corev1.Container{
		Name:         "runtime",
		Image:        r.image,
		Command:      r.startupCommand(),
		Env:          r.containerEnv(),
		Ports:        ports,
		VolumeMounts: mounts,
		WorkingDir:   r.sandboxCfg.WorkspaceMountPath,
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceMemory: resource.MustParse(r.k8sCfg.ResourceMemoryLimit),
			},
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(r.k8sCfg.ResourceCPURequest),
				corev1.ResourceMemory: resource.MustParse(r.k8sCfg.ResourceMemoryRequest),
			},
		},
		ReadinessProbe:  probe,
		SecurityContext: r.securityContext(),
	}

	var pullSecrets []corev1.LocalObjectReference
	if r.k8sCfg.ImagePullSecret != "" {
		pullSecrets = []corev1.LocalObjectReference{{Name: r.k8sCfg.ImagePullSecret}}
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   r.names.Pod,
			Labels: r.podLabels(),
		},
		Spec: corev1.PodSpec{
			Containers:       []corev1.Container{container},
			Volumes:          volumes,
			RestartPolicy:    corev1.RestartPolicyNever,
			ImagePullSecrets: pullSecrets,
			NodeSelector:     r.nodeSelector(),
			Tolerations:      r.tolerations(),
		},
	}
}

func (r *Runtime) ingressManifest() *netv1.Ingress {
	pathType := netv1.PathTypePrefix
	var tls []netv1.IngressTLS
	if r.k8sCfg.IngressTLSSecret != "" {
		tls = []netv1.IngressTLS{
			{
				Hosts:      []string{r.IngressHost()},
				SecretName: r.k8sCfg.IngressTLSSecret,
			},
		}
	}
	return &netv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name: r.names.Ingress,
			Annotations: map[string]string{
				"external-dns.alpha.kubernetes.io/hostname": r.IngressHost(),
			},
		},
		Spec: netv1.IngressSpec{
			TLS: tls,
			Rules: []netv1.IngressRule{
				{
					Host: r.IngressHost(),
					IngressRuleValue: netv1.IngressRuleValue{
						HTTP: &netv1.HTTPIngressRuleValue{
							Paths: []netv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: netv1.IngressBackend{
										Service: &netv1.IngressServiceBackend{
											Name: r.names.EditorService,
											Port: netv1.ServiceBackendPort{Number: int32(EditorPort)},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
