package kube

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	kaosv1alpha1 "github.com/alexsjones/kaos-console/api/v1alpha1"
)

// Kind enumerates the kinds the client knows how to address.
type Kind string

const (
	KindModelAPI              Kind = "ModelAPI"
	KindMCPServer             Kind = "MCPServer"
	KindAgent                 Kind = "Agent"
	KindPod                   Kind = "Pod"
	KindDeployment            Kind = "Deployment"
	KindService               Kind = "Service"
	KindPersistentVolumeClaim Kind = "PersistentVolumeClaim"
	KindConfigMap             Kind = "ConfigMap"
	KindSecret                Kind = "Secret"
	KindNamespace             Kind = "Namespace"
	KindUnknown               Kind = ""
)

// Object holds exactly one decoded object. The field matching Kind is set;
// for KindUnknown, Unknown holds the raw object.
type Object struct {
	Kind Kind

	ModelAPI              *kaosv1alpha1.ModelAPI
	MCPServer             *kaosv1alpha1.MCPServer
	Agent                 *kaosv1alpha1.Agent
	Pod                   *corev1.Pod
	Deployment            *appsv1.Deployment
	Service               *corev1.Service
	PersistentVolumeClaim *corev1.PersistentVolumeClaim
	ConfigMap             *corev1.ConfigMap
	Secret                *corev1.Secret
	Namespace             *corev1.Namespace
	Unknown               *unstructured.Unstructured
}

// Meta returns the object's metadata accessor.
func (o Object) Meta() metav1.Object {
	switch o.Kind {
	case KindModelAPI:
		return o.ModelAPI
	case KindMCPServer:
		return o.MCPServer
	case KindAgent:
		return o.Agent
	case KindPod:
		return o.Pod
	case KindDeployment:
		return o.Deployment
	case KindService:
		return o.Service
	case KindPersistentVolumeClaim:
		return o.PersistentVolumeClaim
	case KindConfigMap:
		return o.ConfigMap
	case KindSecret:
		return o.Secret
	case KindNamespace:
		return o.Namespace
	default:
		if o.Unknown == nil {
			return nil
		}
		return o.Unknown
	}
}

// Value returns the set field as an untyped value, for encoding.
func (o Object) Value() any {
	switch o.Kind {
	case KindModelAPI:
		return o.ModelAPI
	case KindMCPServer:
		return o.MCPServer
	case KindAgent:
		return o.Agent
	case KindPod:
		return o.Pod
	case KindDeployment:
		return o.Deployment
	case KindService:
		return o.Service
	case KindPersistentVolumeClaim:
		return o.PersistentVolumeClaim
	case KindConfigMap:
		return o.ConfigMap
	case KindSecret:
		return o.Secret
	case KindNamespace:
		return o.Namespace
	default:
		return o.Unknown
	}
}

func decodeInto[T any](data []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeObject decodes one JSON or YAML document into an Object.
func DecodeObject(data []byte) (Object, error) {
	data, err := yaml.YAMLToJSON(data)
	if err != nil {
		return Object{}, fmt.Errorf("converting YAML: %w", err)
	}
	var tm metav1.TypeMeta
	if err := json.Unmarshal(data, &tm); err != nil {
		return Object{}, fmt.Errorf("reading apiVersion/kind: %w", err)
	}
	if tm.Kind == "" {
		return Object{}, errors.New("object has no kind")
	}

	gv := tm.APIVersion
	o := Object{Kind: Kind(tm.Kind)}
	switch {
	case gv == kaosv1alpha1.GroupVersion.String() && o.Kind == KindModelAPI:
		o.ModelAPI, err = decodeInto[kaosv1alpha1.ModelAPI](data)
	case gv == kaosv1alpha1.GroupVersion.String() && o.Kind == KindMCPServer:
		o.MCPServer, err = decodeInto[kaosv1alpha1.MCPServer](data)
	case gv == kaosv1alpha1.GroupVersion.String() && o.Kind == KindAgent:
		o.Agent, err = decodeInto[kaosv1alpha1.Agent](data)
	case gv == "v1" && o.Kind == KindPod:
		o.Pod, err = decodeInto[corev1.Pod](data)
	case gv == "apps/v1" && o.Kind == KindDeployment:
		o.Deployment, err = decodeInto[appsv1.Deployment](data)
	case gv == "v1" && o.Kind == KindService:
		o.Service, err = decodeInto[corev1.Service](data)
	case gv == "v1" && o.Kind == KindPersistentVolumeClaim:
		o.PersistentVolumeClaim, err = decodeInto[corev1.PersistentVolumeClaim](data)
	case gv == "v1" && o.Kind == KindConfigMap:
		o.ConfigMap, err = decodeInto[corev1.ConfigMap](data)
	case gv == "v1" && o.Kind == KindSecret:
		o.Secret, err = decodeInto[corev1.Secret](data)
	case gv == "v1" && o.Kind == KindNamespace:
		o.Namespace, err = decodeInto[corev1.Namespace](data)
	default:
		o.Kind = KindUnknown
		u := &unstructured.Unstructured{}
		err = u.UnmarshalJSON(data)
		o.Unknown = u
	}
	if err != nil {
		return Object{}, fmt.Errorf("decoding %s: %w", tm.Kind, err)
	}
	return o, nil
}

// DecodeObjects decodes a stream of YAML documents separated by "---", or a
// single JSON object. Empty documents are skipped.
func DecodeObjects(r io.Reader) ([]Object, error) {
	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	var objs []Object
	for {
		doc, err := reader.Read()
		if err == io.EOF {
			return objs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
		if len(bytes.TrimSpace(doc)) == 0 || isCommentOnly(doc) {
			continue
		}
		o, err := DecodeObject(doc)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
}

func isCommentOnly(doc []byte) bool {
	for _, line := range bytes.Split(doc, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] != '#' {
			return false
		}
	}
	return true
}

// applyTyped creates obj, or replaces it carrying over the stored
// resourceVersion when it already exists.
func applyTyped[T any, PT ObjectPointer[T], L any](ctx context.Context, rs Resources[T, PT, L], obj PT) (PT, bool, error) {
	if obj.GetName() == "" {
		return nil, false, fmt.Errorf("%s without metadata.name: %w", rs.r.gvk.Kind, ErrEmptyName)
	}
	existing, err := rs.Get(ctx, obj.GetName(), obj.GetNamespace())
	if IsNotFound(err) {
		created, err := rs.Create(ctx, obj)
		return created, true, err
	}
	if err != nil {
		return nil, false, err
	}
	desired := obj.DeepCopyObject().(PT)
	desired.SetResourceVersion(existing.GetResourceVersion())
	updated, err := rs.Update(ctx, desired)
	return updated, false, err
}

// Apply creates or updates o and returns the stored object. created is true
// when the object did not exist.
func (c *Client) Apply(ctx context.Context, o Object) (out Object, created bool, err error) {
	out.Kind = o.Kind
	switch o.Kind {
	case KindModelAPI:
		out.ModelAPI, created, err = applyTyped(ctx, c.ModelAPIs().Resources, o.ModelAPI)
	case KindMCPServer:
		out.MCPServer, created, err = applyTyped(ctx, c.MCPServers().Resources, o.MCPServer)
	case KindAgent:
		out.Agent, created, err = applyTyped(ctx, c.Agents().Resources, o.Agent)
	case KindPod:
		out.Pod, created, err = applyTyped(ctx, c.Pods(), o.Pod)
	case KindDeployment:
		out.Deployment, created, err = applyTyped(ctx, c.Deployments(), o.Deployment)
	case KindService:
		out.Service, created, err = applyTyped(ctx, c.Services(), o.Service)
	case KindPersistentVolumeClaim:
		out.PersistentVolumeClaim, created, err = applyTyped(ctx, c.PersistentVolumeClaims(), o.PersistentVolumeClaim)
	case KindConfigMap:
		out.ConfigMap, created, err = applyTyped(ctx, c.ConfigMaps(), o.ConfigMap)
	case KindSecret:
		out.Secret, created, err = applyTyped(ctx, c.Secrets(), o.Secret)
	case KindNamespace:
		out.Namespace, created, err = applyTyped(ctx, c.Namespaces(), o.Namespace)
	default:
		kind := ""
		if o.Unknown != nil {
			kind = o.Unknown.GetKind()
		}
		return Object{}, false, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	if err != nil {
		return Object{}, false, err
	}
	return out, created, nil
}
