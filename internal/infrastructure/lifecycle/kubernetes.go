package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/client-go/util/retry"

	"kgload/internal/bootstrap/logging"
	"kgload/internal/domain/kgload"
	"kgload/internal/errs"
)

// KubernetesController scales the database StatefulSet to zero for the
// import and back afterwards.
type KubernetesController struct {
	client       kubernetes.Interface
	health       *HTTPHealth
	Namespace    string
	StatefulSet  string
	Replicas     int32
	PollInterval time.Duration
	StopTimeout  time.Duration
}

func NewKubernetesController(client kubernetes.Interface, health *HTTPHealth, namespace, statefulSet string, replicas int32) *KubernetesController {
	if namespace == "" {
		namespace = "default"
	}
	if replicas <= 0 {
		replicas = 1
	}
	return &KubernetesController{
		client:       client,
		health:       health,
		Namespace:    namespace,
		StatefulSet:  statefulSet,
		Replicas:     replicas,
		PollInterval: 2 * time.Second,
		StopTimeout:  5 * time.Minute,
	}
}

// NewKubernetesClient prefers the in-cluster config and falls back to
// kubeconfig (or ~/.kube/config when empty).
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, errs.Wrap(err, "load kubernetes config")
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errs.Wrap(err, "create kubernetes clientset")
	}
	return clientset, nil
}

// Stop scales to zero and waits until no pod of the set is running.
func (k *KubernetesController) Stop(ctx context.Context) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "lifecycle"), slog.String("statefulset", k.StatefulSet))
	if err := k.scale(ctx, 0); err != nil {
		return kgload.AtStage(kgload.StageStop, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, k.StopTimeout)
	defer cancel()
	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		sts, err := k.client.AppsV1().StatefulSets(k.Namespace).Get(waitCtx, k.StatefulSet, metav1.GetOptions{})
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if sts.Status.Replicas > 0 || sts.Status.ReadyReplicas > 0 {
			return struct{}{}, fmt.Errorf("%d replicas still running", sts.Status.Replicas)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(k.PollInterval)),
		backoff.WithMaxElapsedTime(k.StopTimeout),
	)
	if err != nil {
		return kgload.AtStage(kgload.StageStop, errs.Wrapf(err, "wait for statefulset %s/%s to stop", k.Namespace, k.StatefulSet))
	}
	logging.Info(ctx, "statefulset stopped")
	return nil
}

func (k *KubernetesController) Start(ctx context.Context) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "lifecycle"), slog.String("statefulset", k.StatefulSet))
	if err := k.scale(ctx, k.Replicas); err != nil {
		return kgload.AtStage(kgload.StageStart, err)
	}
	logging.Info(ctx, "statefulset scaled up", slog.Int("replicas", int(k.Replicas)))
	return nil
}

func (k *KubernetesController) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	return waitHealthy(ctx, k.health, timeout)
}

func (k *KubernetesController) scale(ctx context.Context, replicas int32) error {
	sets := k.client.AppsV1().StatefulSets(k.Namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		sts, err := sets.Get(ctx, k.StatefulSet, metav1.GetOptions{})
		if err != nil {
			return err
		}
		sts.Spec.Replicas = &replicas
		_, err = sets.Update(ctx, sts, metav1.UpdateOptions{})
		return err
	})
	return errs.Wrapf(err, "scale statefulset %s/%s to %d", k.Namespace, k.StatefulSet, replicas)
}
