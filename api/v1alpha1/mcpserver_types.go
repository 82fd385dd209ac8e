package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// MCPServerType is the runtime used to serve the tools.
// +kubebuilder:validation:Enum=python-runtime;node-runtime;custom
type MCPServerType string

const (
	MCPServerTypePython MCPServerType = "python-runtime"
	MCPServerTypeNode   MCPServerType = "node-runtime"
	MCPServerTypeCustom MCPServerType = "custom"
)

// MCPServerSpec defines the desired state of an MCPServer.
type MCPServerSpec struct {
	// Type selects the server runtime.
	Type MCPServerType `json:"type"`

	// Config describes where tools come from.
	Config MCPServerConfig `json:"config"`

	// +optional
	ServiceAccountName string `json:"serviceAccountName,omitempty"`
}

// MCPServerConfig holds tool sources and environment.
type MCPServerConfig struct {
	// +optional
	Tools *MCPToolsConfig `json:"tools,omitempty"`

	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// MCPToolsConfig selects exactly one tool source.
type MCPToolsConfig struct {
	// FromPackage is a package name installed at startup (e.g. "test-mcp-echo-server").
	// +optional
	FromPackage string `json:"fromPackage,omitempty"`

	// FromString is inline tool source code.
	// +optional
	FromString string `json:"fromString,omitempty"`

	// FromSecretKeyRef loads tool source from a Secret.
	// +optional
	FromSecretKeyRef *corev1.SecretKeySelector `json:"fromSecretKeyRef,omitempty"`
}

// MCPServerStatus defines the observed state of an MCPServer.
type MCPServerStatus struct {
	// +optional
	Phase string `json:"phase,omitempty"`

	// +optional
	Ready bool `json:"ready,omitempty"`

	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// AvailableTools lists the tool names the server advertised.
	// +optional
	AvailableTools []string `json:"availableTools,omitempty"`

	// +optional
	Message string `json:"message,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=mcp
// +kubebuilder:printcolumn:name="Type",type="string",JSONPath=".spec.type"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// MCPServer is the Schema for the mcpservers API.
type MCPServer struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MCPServerSpec   `json:"spec,omitempty"`
	Status MCPServerStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MCPServerList contains a list of MCPServer.
type MCPServerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []MCPServer `json:"items"`
}

func init() {
	SchemeBuilder.Register(&MCPServer{}, &MCPServerList{})
}
