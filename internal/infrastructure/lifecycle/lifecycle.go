// Package lifecycle stops, starts and health-checks the graph database
// service around an offline bulk import.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/client-go/kubernetes"

	"kgload/internal/ports"
)

const (
	KindNone       = "none"
	KindDocker     = "docker"
	KindCompose    = "compose"
	KindKubernetes = "kubernetes"
)

type Settings struct {
	Kind           string
	Container      string
	ComposeFile    string
	Service        string
	Namespace      string
	StatefulSet    string
	Replicas       int32
	Kubeconfig     string
	CommandTimeout time.Duration
	HealthURL      string
	HealthInterval time.Duration
}

// KubeClientFactory builds the Kubernetes client lazily so other kinds never
// touch cluster config.
type KubeClientFactory func(kubeconfig string) (kubernetes.Interface, error)

// New returns the controller for s.Kind.
func New(s Settings, runner ports.CommandRunner, kube KubeClientFactory) (ports.Lifecycle, error) {
	var health *HTTPHealth
	if s.HealthURL != "" {
		health = NewHTTPHealth(s.HealthURL, s.HealthInterval)
	}

	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "", KindNone:
		return NewNoopController(health), nil
	case KindDocker:
		if s.Container == "" {
			return nil, fmt.Errorf("lifecycle docker needs lifecycle.container")
		}
		d := NewDockerController(runner, health, s.Container)
		if s.CommandTimeout > 0 {
			d.Timeout = s.CommandTimeout
		}
		return d, nil
	case KindCompose:
		if s.ComposeFile == "" || s.Service == "" {
			return nil, fmt.Errorf("lifecycle compose needs lifecycle.compose_file and lifecycle.service")
		}
		d := NewComposeController(runner, health, s.ComposeFile, s.Service)
		if s.CommandTimeout > 0 {
			d.Timeout = s.CommandTimeout
		}
		return d, nil
	case KindKubernetes:
		if s.StatefulSet == "" {
			return nil, fmt.Errorf("lifecycle kubernetes needs lifecycle.statefulset")
		}
		if kube == nil {
			kube = NewKubernetesClient
		}
		client, err := kube(s.Kubeconfig)
		if err != nil {
			return nil, err
		}
		k := NewKubernetesController(client, health, s.Namespace, s.StatefulSet, s.Replicas)
		if s.CommandTimeout > 0 {
			k.StopTimeout = s.CommandTimeout
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unknown lifecycle kind %q, must be none, docker, compose or kubernetes", s.Kind)
	}
}
