package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
)

// resource locates a collection on the API server.
type resource struct {
	gvk           schema.GroupVersionKind
	plural        string
	clusterScoped bool
}

func (r resource) prefix() string {
	if r.gvk.Group == "" {
		return "/api/" + r.gvk.Version
	}
	return "/apis/" + r.gvk.Group + "/" + r.gvk.Version
}

func (r resource) collectionPath(ns string) string {
	if r.clusterScoped {
		return r.prefix() + "/" + r.plural
	}
	return r.prefix() + "/namespaces/" + url.PathEscape(ns) + "/" + r.plural
}

// itemPath addresses one object. An empty name would address the
// collection, so it is refused.
func (r resource) itemPath(ns, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%s: %w", r.gvk.Kind, ErrEmptyName)
	}
	return r.collectionPath(ns) + "/" + url.PathEscape(name), nil
}

var (
	podResource        = resource{gvk: corev1.SchemeGroupVersion.WithKind("Pod"), plural: "pods"}
	serviceResource    = resource{gvk: corev1.SchemeGroupVersion.WithKind("Service"), plural: "services"}
	pvcResource        = resource{gvk: corev1.SchemeGroupVersion.WithKind("PersistentVolumeClaim"), plural: "persistentvolumeclaims"}
	configMapResource  = resource{gvk: corev1.SchemeGroupVersion.WithKind("ConfigMap"), plural: "configmaps"}
	secretResource     = resource{gvk: corev1.SchemeGroupVersion.WithKind("Secret"), plural: "secrets"}
	namespaceResource  = resource{gvk: corev1.SchemeGroupVersion.WithKind("Namespace"), plural: "namespaces", clusterScoped: true}
	deploymentResource = resource{gvk: appsv1.SchemeGroupVersion.WithKind("Deployment"), plural: "deployments"}
)

// ObjectPointer is the constraint satisfied by pointers to Kubernetes API
// types.
type ObjectPointer[T any] interface {
	*T
	runtime.Object
	metav1.Object
}

// Resources provides list/get/create/update/delete for one kind. T is the
// object type and L its list type.
type Resources[T any, PT ObjectPointer[T], L any] struct {
	c     *Client
	r     resource
	items func(*L) []T
}

// List returns the objects in ns, or in the configured namespace when ns is
// empty. Cluster-scoped kinds ignore ns.
func (rs Resources[T, PT, L]) List(ctx context.Context, ns string) ([]T, error) {
	list, err := rs.list(ctx, ns)
	if err != nil {
		return nil, err
	}
	items := rs.items(list)
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (rs Resources[T, PT, L]) list(ctx context.Context, ns string) (*L, error) {
	var list L
	if err := rs.c.do(ctx, http.MethodGet, rs.r.collectionPath(rs.c.namespace(ns)), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Get returns one object. A missing object surfaces as an *APIError with
// status 404.
func (rs Resources[T, PT, L]) Get(ctx context.Context, name, ns string) (PT, error) {
	path, err := rs.r.itemPath(rs.c.namespace(ns), name)
	if err != nil {
		return nil, err
	}
	out := PT(new(T))
	if err := rs.c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create posts obj into obj's namespace, falling back to the configured
// namespace, and returns the object as stored by the server.
func (rs Resources[T, PT, L]) Create(ctx context.Context, obj PT) (PT, error) {
	out := PT(new(T))
	body := rs.withKind(obj)
	if err := rs.c.do(ctx, http.MethodPost, rs.r.collectionPath(rs.c.namespace(obj.GetNamespace())), body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the stored object addressed by obj's name. The caller
// supplies the complete desired object.
func (rs Resources[T, PT, L]) Update(ctx context.Context, obj PT) (PT, error) {
	path, err := rs.r.itemPath(rs.c.namespace(obj.GetNamespace()), obj.GetName())
	if err != nil {
		return nil, err
	}
	out := PT(new(T))
	body := rs.withKind(obj)
	if err := rs.c.do(ctx, http.MethodPut, path, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete requests deletion and returns the server's Status. Deletion
// completes asynchronously on the server.
func (rs Resources[T, PT, L]) Delete(ctx context.Context, name, ns string) (*metav1.Status, error) {
	path, err := rs.r.itemPath(rs.c.namespace(ns), name)
	if err != nil {
		return nil, err
	}
	return rs.c.deleteAt(ctx, rs.r, path, name)
}

// withKind returns a copy of obj with apiVersion/kind filled in when unset.
func (rs Resources[T, PT, L]) withKind(obj PT) runtime.Object {
	cp := obj.DeepCopyObject()
	if cp.GetObjectKind().GroupVersionKind().Empty() {
		cp.GetObjectKind().SetGroupVersionKind(rs.r.gvk)
	}
	return cp
}

func (c *Client) deleteAt(ctx context.Context, r resource, path, name string) (*metav1.Status, error) {
	resp, err := c.send(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	// Most kinds answer with a Status; some answer with the object being
	// deleted. Report the latter as a successful Status.
	var raw struct {
		metav1.TypeMeta `json:",inline"`
	}
	var st metav1.Status
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading delete response: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err == nil && raw.Kind == "Status" {
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decoding delete status: %w", err)
		}
		return &st, nil
	}
	return &metav1.Status{
		TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   metav1.StatusSuccess,
		Code:     int32(resp.StatusCode),
		Details: &metav1.StatusDetails{
			Name:  name,
			Group: r.gvk.Group,
			Kind:  r.plural,
		},
	}, nil
}

// Pods returns typed operations for Pods.
func (c *Client) Pods() Resources[corev1.Pod, *corev1.Pod, corev1.PodList] {
	return Resources[corev1.Pod, *corev1.Pod, corev1.PodList]{c: c, r: podResource,
		items: func(l *corev1.PodList) []corev1.Pod { return l.Items }}
}

// Deployments returns typed operations for Deployments.
func (c *Client) Deployments() Resources[appsv1.Deployment, *appsv1.Deployment, appsv1.DeploymentList] {
	return Resources[appsv1.Deployment, *appsv1.Deployment, appsv1.DeploymentList]{c: c, r: deploymentResource,
		items: func(l *appsv1.DeploymentList) []appsv1.Deployment { return l.Items }}
}

// Services returns typed operations for Services.
func (c *Client) Services() Resources[corev1.Service, *corev1.Service, corev1.ServiceList] {
	return Resources[corev1.Service, *corev1.Service, corev1.ServiceList]{c: c, r: serviceResource,
		items: func(l *corev1.ServiceList) []corev1.Service { return l.Items }}
}

// PersistentVolumeClaims returns typed operations for PVCs.
func (c *Client) PersistentVolumeClaims() Resources[corev1.PersistentVolumeClaim, *corev1.PersistentVolumeClaim, corev1.PersistentVolumeClaimList] {
	return Resources[corev1.PersistentVolumeClaim, *corev1.PersistentVolumeClaim, corev1.PersistentVolumeClaimList]{c: c, r: pvcResource,
		items: func(l *corev1.PersistentVolumeClaimList) []corev1.PersistentVolumeClaim { return l.Items }}
}

// ConfigMaps returns typed operations for ConfigMaps.
func (c *Client) ConfigMaps() Resources[corev1.ConfigMap, *corev1.ConfigMap, corev1.ConfigMapList] {
	return Resources[corev1.ConfigMap, *corev1.ConfigMap, corev1.ConfigMapList]{c: c, r: configMapResource,
		items: func(l *corev1.ConfigMapList) []corev1.ConfigMap { return l.Items }}
}

// Secrets returns typed operations for Secrets.
func (c *Client) Secrets() Resources[corev1.Secret, *corev1.Secret, corev1.SecretList] {
	return Resources[corev1.Secret, *corev1.Secret, corev1.SecretList]{c: c, r: secretResource,
		items: func(l *corev1.SecretList) []corev1.Secret { return l.Items }}
}

// Namespaces returns typed operations for Namespaces. The namespace
// arguments of List, Get and Delete are ignored.
func (c *Client) Namespaces() Resources[corev1.Namespace, *corev1.Namespace, corev1.NamespaceList] {
	return Resources[corev1.Namespace, *corev1.Namespace, corev1.NamespaceList]{c: c, r: namespaceResource,
		items: func(l *corev1.NamespaceList) []corev1.Namespace { return l.Items }}
}

// ScaleDeployment sets the replica count through the scale subresource.
func (c *Client) ScaleDeployment(ctx context.Context, name, ns string, replicas int32) (*autoscalingv1.Scale, error) {
	ns = c.namespace(ns)
	path, err := deploymentResource.itemPath(ns, name)
	if err != nil {
		return nil, err
	}
	scale := &autoscalingv1.Scale{
		TypeMeta:   metav1.TypeMeta{Kind: "Scale", APIVersion: "autoscaling/v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec:       autoscalingv1.ScaleSpec{Replicas: replicas},
	}
	var out autoscalingv1.Scale
	if err := c.do(ctx, http.MethodPut, path+"/scale", scale, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerVersion returns the API server's build information.
func (c *Client) ServerVersion(ctx context.Context) (*version.Info, error) {
	var info version.Info
	if err := c.do(ctx, http.MethodGet, "/version", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
