package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// AgentSpec defines the desired state of an Agent.
// An Agent binds a ModelAPI to zero or more MCPServers and optionally
// exposes itself to other agents over A2A.
type AgentSpec struct {
	// ModelAPI is the name of the ModelAPI in the same namespace.
	ModelAPI string `json:"modelAPI"`

	// Model overrides the model requested from the ModelAPI.
	// +optional
	Model string `json:"model,omitempty"`

	// MCPServers lists MCPServer names whose tools the agent may call.
	// +optional
	MCPServers []string `json:"mcpServers,omitempty"`

	// AgentNetwork configures agent-to-agent delegation.
	// +optional
	AgentNetwork *AgentNetworkConfig `json:"agentNetwork,omitempty"`

	// Config holds the agent's behaviour.
	// +optional
	Config *AgentConfig `json:"config,omitempty"`

	// WaitForDependencies delays the agent until its ModelAPI and MCPServers are ready.
	// +kubebuilder:default=true
	// +optional
	WaitForDependencies *bool `json:"waitForDependencies,omitempty"`
}

// AgentNetworkConfig controls A2A exposure.
type AgentNetworkConfig struct {
	// Expose creates a Service so other agents can reach this one.
	// +optional
	Expose *bool `json:"expose,omitempty"`

	// Access lists agent names this agent may delegate to.
	// +optional
	Access []string `json:"access,omitempty"`
}

// AgentConfig defines configuration for an agent.
type AgentConfig struct {
	// +optional
	Description string `json:"description,omitempty"`

	// Instructions is the system prompt.
	// +optional
	Instructions string `json:"instructions,omitempty"`

	// ReasoningLoopMaxSteps bounds tool-call iterations.
	// +kubebuilder:default=5
	// +optional
	ReasoningLoopMaxSteps *int32 `json:"reasoningLoopMaxSteps,omitempty"`

	// +optional
	Env []corev1.EnvVar `json:"env,omitempty"`
}

// AgentStatus defines the observed state of an Agent.
type AgentStatus struct {
	// +optional
	Phase string `json:"phase,omitempty"`

	// +optional
	Ready bool `json:"ready,omitempty"`

	// Endpoint is the in-cluster URL of the agent service.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// LinkedResources maps resource kind to the names the agent depends on.
	// +optional
	LinkedResources map[string]string `json:"linkedResources,omitempty"`

	// +optional
	Message string `json:"message,omitempty"`

	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="ModelAPI",type="string",JSONPath=".spec.modelAPI"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Agent is the Schema for the agents API.
type Agent struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AgentSpec   `json:"spec,omitempty"`
	Status AgentStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// AgentList contains a list of Agent.
type AgentList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Agent `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Agent{}, &AgentList{})
}
