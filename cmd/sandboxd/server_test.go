package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"sandboxd/internal/config"
	"sandboxd/internal/runtime"
	"sandboxd/pkg/api"
)

func newTestServer(client *fake.Clientset) *server {
	gin.SetMode(gin.TestMode)
	return &server{
		client: client,
		cfg: &config.Config{
			Kubernetes: config.Kubernetes{
				Namespace:             "sandboxes",
				IngressDomain:         "sandbox.example.com",
				PVCStorageSize:        "2Gi",
				ResourceCPURequest:    "1",
				ResourceMemoryRequest: "1Gi",
				ResourceMemoryLimit:   "2Gi",
				BindTimeout:           time.Second,
				ReadyTimeout:          time.Second,
			},
			Sandbox: config.Sandbox{
				Image:              "sandbox:latest",
				WorkspaceMountPath: "/workspace",
			},
		},
		reg:     newSessionRegistry(),
		hub:     newStatusHub(64),
		janitor: runtime.NewJanitor(client),
	}
}

// healthyCluster makes created claims bind and created pods run immediately.
func healthyCluster(client *fake.Clientset) {
	client.PrependReactor("create", "persistentvolumeclaims", func(action k8stesting.Action) (bool, k8sruntime.Object, error) {
		pvc := action.(k8stesting.CreateAction).GetObject().(*corev1.PersistentVolumeClaim)
		pvc.Status.Phase = corev1.ClaimBound
		return false, nil, nil
	})
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, k8sruntime.Object, error) {
		pod := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod)
		pod.Status = corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodScheduled, Status: corev1.ConditionTrue},
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		}
		return false, nil, nil
	})
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(fake.NewSimpleClientset())
	rec := doRequest(t, s.router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateSandbox(t *testing.T) {
	client := fake.NewSimpleClientset()
	healthyCluster(client)
	s := newTestServer(client)
	router := s.router()

	rec := doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: "sess1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateSandboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess1", resp.SID)
	assert.Equal(t, "sandboxes", resp.Namespace)
	assert.Equal(t, "sandbox-runtime-sess1", resp.PodName)
	assert.Equal(t, "starting", resp.Status)
	assert.Equal(t, "http://sandbox-runtime-sess1-svc.sandboxes.svc.cluster.local:8080", resp.APIURL)

	// Provisioning runs in the background; wait for the pod to appear.
	require.Eventually(t, func() bool {
		_, err := client.CoreV1().Pods("sandboxes").Get(context.Background(), "sandbox-runtime-sess1", metav1.GetOptions{})
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateSandboxInvalidSID(t *testing.T) {
	s := newTestServer(fake.NewSimpleClientset())
	router := s.router()

	for _, sid := range []string{"", "Has-Upper", "under_score", "-leading", "trailing-"} {
		rec := doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: sid})
		assert.Equal(t, http.StatusBadRequest, rec.Code, sid)
	}
}

func TestCreateSandboxDuplicate(t *testing.T) {
	client := fake.NewSimpleClientset()
	healthyCluster(client)
	s := newTestServer(client)
	router := s.router()

	rec := doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: "dup"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: "dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetSandbox(t *testing.T) {
	client := fake.NewSimpleClientset()
	healthyCluster(client)
	s := newTestServer(client)
	router := s.router()

	rec := doRequest(t, router, http.MethodGet, "/sandboxes/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: "sess2"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := doRequest(t, router, http.MethodGet, "/sandboxes/sess2", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status api.SandboxStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.Status == "ready" && status.Phase == "Running"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDeleteSandbox(t *testing.T) {
	client := fake.NewSimpleClientset()
	healthyCluster(client)
	s := newTestServer(client)
	router := s.router()

	rec := doRequest(t, router, http.MethodPost, "/sandboxes", api.CreateSandboxRequest{SID: "sess3"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		_, err := client.CoreV1().Pods("sandboxes").Get(context.Background(), "sandbox-runtime-sess3", metav1.GetOptions{})
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	rec = doRequest(t, router, http.MethodDelete, "/sandboxes/sess3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := client.CoreV1().Pods("sandboxes").Get(context.Background(), "sandbox-runtime-sess3", metav1.GetOptions{})
	assert.Error(t, err)
	// Volume kept without remove_volume.
	_, err = client.CoreV1().PersistentVolumeClaims("sandboxes").Get(context.Background(), "sandbox-runtime-sess3-pvc", metav1.GetOptions{})
	assert.NoError(t, err)

	// Deleting an unknown session is still a 200; teardown is idempotent.
	rec = doRequest(t, router, http.MethodDelete, "/sandboxes/ghost?remove_volume=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidSID(t *testing.T) {
	assert.True(t, validSID("abc"))
	assert.True(t, validSID("a1-b2"))
	assert.True(t, validSID("0"))
	assert.False(t, validSID(""))
	assert.False(t, validSID("ABC"))
	assert.False(t, validSID("a_b"))
	assert.False(t, validSID("-a"))
	assert.False(t, validSID("a-"))
}
