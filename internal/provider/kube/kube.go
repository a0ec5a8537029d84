// Package kube runs one room per deployment+service in a Kubernetes
// cluster, recording the deployment's identity and readiness in the
// registry.
package kube

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

const (
	appLabel     = "quizroom"
	roomPort     = 8080
	servicePort  = 80
	roomLabelKey = "evaluetonsavoir/room"
)

type Provider struct {
	provider.Base

	client    kubernetes.Interface
	namespace string
	image     string
	redisAddr string
}

func New(base provider.Base, namespace, image, redisAddr string) (*Provider, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		// Outside a pod fall back to the operator's kubeconfig.
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			clientcmd.NewDefaultClientConfigLoadingRules(), nil).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return NewWithClient(base, client, namespace, image, redisAddr), nil
}

// NewWithClient wires a prebuilt clientset; used by tests.
func NewWithClient(base provider.Base, client kubernetes.Interface, namespace, image, redisAddr string) *Provider {
	return &Provider{Base: base, client: client, namespace: namespace, image: image, redisAddr: redisAddr}
}

func deploymentName(roomID string) string { return "quizroom-" + roomID }

func (p *Provider) CreateRoom(ctx context.Context, opts rooms.Options) (*rooms.RoomInfo, error) {
	if opts.RoomID == "" {
		opts.RoomID = rooms.NewRoomID()
	}
	name := deploymentName(opts.RoomID)
	labels := map[string]string{"app": appLabel, roomLabelKey: opts.RoomID}
	replicas := int32(1)

	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "roomserver",
						Image: p.image,
						Env: []corev1.EnvVar{
							{Name: "QUIZ_ROOM_ID", Value: opts.RoomID},
							{Name: "QUIZ_REDIS_ADDR", Value: p.redisAddr},
						},
						Ports: []corev1.ContainerPort{{ContainerPort: roomPort}},
					}},
				},
			},
		},
	}
	if _, err := p.client.AppsV1().Deployments(p.namespace).Create(ctx, dep, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("create deployment for %s: %w", opts.RoomID, err)
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.namespace, Labels: labels},
		Spec: corev1.ServiceSpec{
			Selector: labels,
			Ports: []corev1.ServicePort{{
				Port:       servicePort,
				TargetPort: intstr.FromInt(roomPort),
			}},
		},
	}
	if _, err := p.client.CoreV1().Services(p.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("create service for %s: %w", opts.RoomID, err)
	}

	info := &rooms.RoomInfo{
		RoomID:         opts.RoomID,
		Status:         rooms.StatusCreating,
		Provider:       rooms.ProviderKubernetes,
		CreatedAt:      time.Now(),
		DeploymentName: name,
		Namespace:      p.namespace,
	}
	if err := p.Registry.PutRoomInfo(ctx, info); err != nil {
		return nil, err
	}
	log.Info().Str("module", "provider.kube").Str("room", info.RoomID).Str("deployment", name).Msg("room created")
	return info, nil
}

// refreshStatus folds the deployment's readiness into the registry record.
func (p *Provider) refreshStatus(ctx context.Context, info *rooms.RoomInfo) (*rooms.RoomInfo, error) {
	dep, err := p.client.AppsV1().Deployments(info.Namespace).Get(ctx, info.DeploymentName, metav1.GetOptions{})
	if err != nil {
		return info, err
	}
	now := time.Now()
	ds := &rooms.DeploymentStatus{
		AvailableReplicas: dep.Status.AvailableReplicas,
		ReadyReplicas:     dep.Status.ReadyReplicas,
		Replicas:          dep.Status.Replicas,
	}
	patch := rooms.Patch{LastUpdate: &now, DeploymentStatus: ds}
	if dep.Status.ReadyReplicas >= 1 {
		status := rooms.StatusRunning
		patch.Status = &status
	}
	if _, err := p.UpdateRoomInfo(ctx, info.RoomID, patch); err != nil {
		return info, err
	}
	return p.GetRoomInfo(ctx, info.RoomID)
}

func (p *Provider) DeleteRoom(ctx context.Context, roomID string) error {
	info, err := p.GetRoomInfo(ctx, roomID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.DeploymentName != "" {
		propagation := metav1.DeletePropagationForeground
		delOpts := metav1.DeleteOptions{PropagationPolicy: &propagation}
		if err := p.client.AppsV1().Deployments(info.Namespace).Delete(ctx, info.DeploymentName, delOpts); err != nil && !apierrors.IsNotFound(err) {
			log.Warn().Str("module", "provider.kube").Str("room", roomID).Err(err).Msg("deployment delete failed")
		}
		if err := p.client.CoreV1().Services(info.Namespace).Delete(ctx, info.DeploymentName, delOpts); err != nil && !apierrors.IsNotFound(err) {
			log.Warn().Str("module", "provider.kube").Str("room", roomID).Err(err).Msg("service delete failed")
		}
	}
	return p.Registry.DeleteRoom(ctx, roomID)
}

func (p *Provider) GetRoomStatus(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	info, err := p.GetRoomInfo(ctx, roomID)
	if err != nil || info == nil {
		return info, err
	}
	if info.DeploymentName == "" {
		return info, nil
	}
	refreshed, err := p.refreshStatus(ctx, info)
	if err != nil {
		errMsg := err.Error()
		errStatus := rooms.StatusError
		_, _ = p.UpdateRoomInfo(ctx, roomID, rooms.Patch{Status: &errStatus, Error: &errMsg})
		return p.GetRoomInfo(ctx, roomID)
	}
	return refreshed, nil
}

func (p *Provider) ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error) {
	return p.Registry.ListRooms(ctx)
}

func (p *Provider) Cleanup(ctx context.Context) error {
	return p.ReapStale(ctx, p.DeleteRoom)
}
