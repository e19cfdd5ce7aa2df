package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"kgload/internal/domain/kgload"
	"kgload/internal/ports"
)

func TestHTTPHealthBecomesHealthy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPHealth(srv.URL, 10*time.Millisecond)
	if err := h.WaitHealthy(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("WaitHealthy() error = %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestHTTPHealthTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHTTPHealth(srv.URL, 20*time.Millisecond)
	err := h.WaitHealthy(context.Background(), 150*time.Millisecond)

	var timeout *kgload.StartupTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("WaitHealthy() error = %v, want StartupTimeout", err)
	}
	if timeout.Endpoint != srv.URL {
		t.Fatalf("Endpoint = %q", timeout.Endpoint)
	}
	if kgload.ExitCode(err) != kgload.ExitStartupTimeout {
		t.Fatalf("ExitCode() = %d", kgload.ExitCode(err))
	}
}

type recordingRunner struct {
	calls [][]string
	exit  int
}

func (r *recordingRunner) Run(_ context.Context, cmd ports.Command) (ports.CommandResult, error) {
	r.calls = append(r.calls, append([]string{cmd.Program}, cmd.Args...))
	return ports.CommandResult{ExitCode: r.exit, Stderr: "no such container"}, nil
}

func TestDockerAndComposeCommands(t *testing.T) {
	runner := &recordingRunner{}

	docker, err := New(Settings{Kind: KindDocker, Container: "neo4j"}, runner, nil)
	if err != nil {
		t.Fatalf("New(docker) error = %v", err)
	}
	compose, err := New(Settings{Kind: KindCompose, ComposeFile: "compose.yml", Service: "neo4j"}, runner, nil)
	if err != nil {
		t.Fatalf("New(compose) error = %v", err)
	}

	ctx := context.Background()
	_ = docker.Stop(ctx)
	_ = docker.Start(ctx)
	_ = compose.Stop(ctx)

	want := [][]string{
		{"docker", "stop", "neo4j"},
		{"docker", "start", "neo4j"},
		{"docker", "compose", "-f", "compose.yml", "stop", "neo4j"},
	}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Fatalf("calls = %v, want %v", runner.calls, want)
	}

	runner.exit = 1
	err = docker.Stop(ctx)
	if err == nil || kgload.StageOf(err) != kgload.StageStop {
		t.Fatalf("Stop() error = %v, want stop-stage error", err)
	}
}

func TestNewRejectsIncompleteSettings(t *testing.T) {
	cases := []Settings{
		{Kind: KindDocker},
		{Kind: KindCompose, ComposeFile: "x.yml"},
		{Kind: KindKubernetes},
		{Kind: "podman"},
	}
	for _, s := range cases {
		if _, err := New(s, &recordingRunner{}, nil); err == nil {
			t.Fatalf("New(%+v) expected error", s)
		}
	}
}

func TestKubernetesControllerScalesStatefulSet(t *testing.T) {
	one := int32(1)
	client := fake.NewSimpleClientset(&appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "neo4j", Namespace: "graph"},
		Spec:       appsv1.StatefulSetSpec{Replicas: &one},
	})

	ctrl, err := New(Settings{Kind: KindKubernetes, Namespace: "graph", StatefulSet: "neo4j", Replicas: 2}, nil,
		func(string) (kubernetes.Interface, error) { return client, nil })
	if err != nil {
		t.Fatalf("New(kubernetes) error = %v", err)
	}
	k := ctrl.(*KubernetesController)
	k.PollInterval = 10 * time.Millisecond
	k.StopTimeout = time.Second

	ctx := context.Background()
	replicas := func() int32 {
		sts, err := client.AppsV1().StatefulSets("graph").Get(ctx, "neo4j", metav1.GetOptions{})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		return *sts.Spec.Replicas
	}

	if err := k.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := replicas(); got != 0 {
		t.Fatalf("replicas after Stop = %d, want 0", got)
	}
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := replicas(); got != 2 {
		t.Fatalf("replicas after Start = %d, want 2", got)
	}
}

func TestKubernetesStopTimesOutWhilePodsRun(t *testing.T) {
	one := int32(1)
	client := fake.NewSimpleClientset(&appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "neo4j", Namespace: "default"},
		Spec:       appsv1.StatefulSetSpec{Replicas: &one},
		Status:     appsv1.StatefulSetStatus{Replicas: 1, ReadyReplicas: 1},
	})

	k := NewKubernetesController(client, nil, "", "neo4j", 1)
	k.PollInterval = 10 * time.Millisecond
	k.StopTimeout = 100 * time.Millisecond

	err := k.Stop(context.Background())
	if err == nil || kgload.StageOf(err) != kgload.StageStop {
		t.Fatalf("Stop() error = %v, want stop-stage error", err)
	}
}

func TestLazyBuildsOnceAndReportsConfigErrors(t *testing.T) {
	builds := 0
	lazy := NewLazy(func() (ports.Lifecycle, error) {
		builds++
		return New(Settings{Kind: KindDocker}, nil, nil)
	})
	if builds != 0 {
		t.Fatalf("NewLazy() built the controller eagerly")
	}
	err := lazy.Stop(context.Background())
	if !errors.Is(err, kgload.ErrInvalidConfig) {
		t.Fatalf("Stop() error = %v, want invalid configuration", err)
	}
	if err := lazy.Start(context.Background()); err == nil {
		t.Fatalf("Start() expected error")
	}
	if builds != 1 {
		t.Fatalf("builds = %d, want 1", builds)
	}

	ok := NewLazy(func() (ports.Lifecycle, error) { return New(Settings{}, nil, nil) })
	if err := ok.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := ok.WaitHealthy(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitHealthy() error = %v", err)
	}
}
