package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ModelAPIMode selects how a ModelAPI serves requests.
// +kubebuilder:validation:Enum=Proxy;Hosted
type ModelAPIMode string

const (
	// ModelAPIModeProxy runs a LiteLLM proxy in front of an external provider.
	ModelAPIModeProxy ModelAPIMode = "Proxy"
	// ModelAPIModeHosted runs the model in-cluster (Ollama).
	ModelAPIModeHosted ModelAPIMode = "Hosted"
)

// ModelAPISpec defines the desired state of a ModelAPI.
type ModelAPISpec struct {
	// Mode is either Proxy or Hosted.
	Mode ModelAPIMode `json:"mode"`

	// ProxyConfig is required when Mode is Proxy.
	// +optional
	ProxyConfig *ProxyConfig `json:"proxyConfig,omitempty"`

	// HostedConfig is required when Mode is Hosted.
	// +optional
	HostedConfig *HostedConfig `json:"hostedConfig,omitempty"`

	// ServiceAccountName for the ModelAPI pod.
	// +optional
	ServiceAccountName string `json:"serviceAccountName,omitempty"`
}

// ProxyConfig configures a LiteLLM proxy deployment.
type ProxyConfig struct {
	// Model is the upstream model identifier (e.g. gpt-4-turbo, ollama/smollm2:135m).
	Model string `json:"model"`

	// APIBase overrides the provider endpoint.
	// +optional
	APIBase string `json:"apiBase,omitempty"`

	// APIKey is the provider credential.
	// +optional
	APIKey *ValueSource `json:"apiKey,omitempty"`

	// Env is passed through to the proxy container.
	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// HostedConfig configures an in-cluster model server.
type HostedConfig struct {
	// Model is the model pulled by the server (e.g. smollm2:135m).
	Model string `json:"model"`

	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// ValueSource holds either a literal value or a reference to a Secret key.
type ValueSource struct {
	// +optional
	Value string `json:"value,omitempty"`

	// +optional
	ValueFrom *corev1.EnvVarSource `json:"valueFrom,omitempty"`
}

// ModelAPIStatus defines the observed state of a ModelAPI.
type ModelAPIStatus struct {
	// Phase is one of Pending, Ready, Failed.
	// +optional
	Phase string `json:"phase,omitempty"`

	// +optional
	Ready bool `json:"ready,omitempty"`

	// Endpoint is the in-cluster URL of the model API service.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// +optional
	Message string `json:"message,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=mapi
// +kubebuilder:printcolumn:name="Mode",type="string",JSONPath=".spec.mode"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// ModelAPI is the Schema for the modelapis API.
type ModelAPI struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModelAPISpec   `json:"spec,omitempty"`
	Status ModelAPIStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ModelAPIList contains a list of ModelAPI.
type ModelAPIList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ModelAPI `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ModelAPI{}, &ModelAPIList{})
}
