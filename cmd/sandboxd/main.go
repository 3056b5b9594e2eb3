package main

import (
	"context"
	"expvar"
	"flag"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"sandboxd/internal/config"
	"sandboxd/internal/k8s"
	"sandboxd/internal/runtime"
	"sandboxd/pkg/api"
)

type server struct {
	client  kubernetes.Interface
	cfg     *config.Config
	reg     *sessionRegistry
	hub     *statusHub
	janitor *runtime.Janitor
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	client, err := k8s.NewClient()
	if err != nil {
		log.Fatalf("k8s client: %v", err)
	}

	janitor := runtime.NewJanitor(client)
	janitor.Install()

	s := &server{
		client:  client,
		cfg:     cfg,
		reg:     newSessionRegistry(),
		hub:     newStatusHub(64),
		janitor: janitor,
	}
	log.Printf("namespace=%s ingress_domain=%s image=%s",
		cfg.Kubernetes.Namespace, cfg.Kubernetes.IngressDomain, cfg.Sandbox.Image)

	if cfg.Sandbox.IdleTTL > 0 {
		log.Printf("idle reaper enabled ttl=%s", cfg.Sandbox.IdleTTL)
		go s.reapIdleSandboxes(context.Background())
	}

	router := s.router()
	log.Printf("sandboxd listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware(), ginLogger())
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(expvar.Handler()))
	router.POST("/sandboxes", s.createSandbox)
	router.GET("/sandboxes/:sid", s.getSandbox)
	router.DELETE("/sandboxes/:sid", s.deleteSandbox)
	router.GET("/sandboxes/:sid/events", s.streamEvents)
	router.GET("/artifactory/types", s.artifactoryTypes)
	router.GET("/artifactory/repositories", s.artifactorySearch)
	return router
}

func (s *server) handleHealth(c *gin.Context) {
	c.String(200, "ok")
}

func (s *server) createSandbox(c *gin.Context) {
	var req api.CreateSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, 400, err.Error())
		return
	}
	if !validSID(req.SID) {
		writeError(c, 400, "sid must be DNS-1123 compatible (lowercase letters, numbers, '-')")
		return
	}

	sess := &session{status: runtime.StatusStarting}
	rt := runtime.New(s.client, s.cfg, req.SID, runtime.Options{
		AttachExisting: req.Attach,
		KeepAlive:      req.KeepAlive,
		Debug:          req.Debug,
		Env:            req.Env,
		Plugins:        req.Plugins,
		Status: func(status runtime.Status, detail string) {
			sess.setStatus(status, detail)
			s.hub.publish(api.StatusEvent{
				SID:    req.SID,
				Seq:    s.hub.nextSeq(),
				Status: string(status),
				Detail: detail,
				Time:   nowTS(),
			})
		},
	})
	sess.rt = rt
	if !s.reg.add(req.SID, sess) {
		writeError(c, 409, "session already exists: "+req.SID)
		return
	}
	s.janitor.Track(s.cfg.Kubernetes.Namespace, req.SID)

	// Connect blocks on cluster API calls for up to the configured wait
	// deadlines, so it never runs on the request path.
	go func() {
		start := time.Now()
		timeout := s.cfg.Kubernetes.BindTimeout + 2*s.cfg.Kubernetes.ReadyTimeout
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		verifyGitCredentials(ctx, req.SID, req.Env)
		if err := rt.Connect(ctx); err != nil {
			log.Printf("connect failed sid=%s err=%v", req.SID, err)
			metricFailures.Add(1)
			return
		}
		recordReady(time.Since(start).Milliseconds())
	}()

	if req.Attach {
		metricAttaches.Add(1)
	} else {
		metricProvisions.Add(1)
	}
	names := runtime.NamesFor(req.SID)
	writeJSON(c, 202, api.CreateSandboxResponse{
		SID:       req.SID,
		Namespace: s.cfg.Kubernetes.Namespace,
		PodName:   names.Pod,
		APIURL:    rt.APIURL(),
		EditorURL: rt.EditorURL(""),
		Status:    string(runtime.StatusStarting),
	})
}

func (s *server) getSandbox(c *gin.Context) {
	sid := c.Param("sid")
	sess, ok := s.reg.get(sid)
	if !ok {
		writeError(c, 404, "unknown session: "+sid)
		return
	}
	status, detail := sess.currentStatus()
	names := runtime.NamesFor(sid)

	phase := ""
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if pod, err := s.client.CoreV1().Pods(s.cfg.Kubernetes.Namespace).Get(ctx, names.Pod, metav1.GetOptions{}); err == nil {
		phase = string(pod.Status.Phase)
	}

	writeJSON(c, 200, api.SandboxStatus{
		SID:       sid,
		Namespace: s.cfg.Kubernetes.Namespace,
		PodName:   names.Pod,
		Phase:     phase,
		Status:    string(status),
		Detail:    detail,
		APIURL:    sess.rt.APIURL(),
		EditorURL: sess.rt.EditorURL(""),
	})
}

func (s *server) deleteSandbox(c *gin.Context) {
	sid := c.Param("sid")
	removeVolume, _ := strconv.ParseBool(c.Query("remove_volume"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()
	// Teardown recomputes names from the sid, so deletion works whether or
	// not this process provisioned the session.
	runtime.Teardown(ctx, s.client, s.cfg.Kubernetes.Namespace, sid, removeVolume)
	s.reg.delete(sid)
	metricDeletes.Add(1)
	writeJSON(c, 200, api.DeleteSandboxResponse{Status: "deleted"})
}

func (s *server) streamEvents(c *gin.Context) {
	sid := c.Param("sid")
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, snapshot := s.hub.subscribe(sid)
	defer s.hub.unsubscribe(sid, ch)

	// Client disconnects surface as read errors; unsubscribing closes ch and
	// releases the write loop below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.unsubscribe(sid, ch)
				return
			}
		}
	}()

	for _, evt := range snapshot {
		if err := writeEventJSON(conn, evt); err != nil {
			return
		}
	}
	for evt := range ch {
		if err := writeEventJSON(conn, evt); err != nil {
			return
		}
	}
}

var sidPattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

func validSID(sid string) bool {
	return sidPattern.MatchString(sid)
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, map[string]string{"error": msg})
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = strconv.FormatInt(time.Now().UnixNano(), 36)
			c.Request.Header.Set("X-Request-Id", reqID)
		}
		c.Writer.Header().Set("X-Request-Id", reqID)
		c.Next()
	}
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		reqID := c.GetHeader("X-Request-Id")
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		log.Printf("req_id=%s method=%s path=%s status=%d duration=%s",
			reqID, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
