package kube

import (
	"context"

	kaosv1alpha1 "github.com/alexsjones/kaos-console/api/v1alpha1"
	"github.com/alexsjones/kaos-console/internal/metrics"
)

var (
	modelAPIResource  = resource{gvk: kaosv1alpha1.GroupVersion.WithKind("ModelAPI"), plural: "modelapis"}
	mcpServerResource = resource{gvk: kaosv1alpha1.GroupVersion.WithKind("MCPServer"), plural: "mcpservers"}
	agentResource     = resource{gvk: kaosv1alpha1.GroupVersion.WithKind("Agent"), plural: "agents"}
)

// ListState says how a custom resource list was obtained.
type ListState string

const (
	// ListOK means the server answered; Items may still be empty.
	ListOK ListState = "OK"
	// ListNotInstalled means the server answered 404: the CRD is not installed.
	ListNotInstalled ListState = "NotInstalled"
	// ListUnavailable means the request failed for any other reason.
	ListUnavailable ListState = "Unavailable"
)

// CustomList is the result of listing a custom resource. Listing never
// fails: when the request does, Items is empty and State and Err say why.
type CustomList[T any] struct {
	Items []T       `json:"items"`
	State ListState `json:"state"`
	Err   error     `json:"-"`
}

// CustomResources is Resources for a KAOS custom kind, with a List that
// degrades to an empty result so that a cluster without the operator still
// renders.
type CustomResources[T any, PT ObjectPointer[T], L any] struct {
	Resources[T, PT, L]
}

// List returns the objects in ns. Get, Create, Update and Delete do not
// degrade and return errors as usual.
func (rs CustomResources[T, PT, L]) List(ctx context.Context, ns string) CustomList[T] {
	items, err := rs.Resources.List(ctx, ns)
	if err == nil {
		return CustomList[T]{Items: items, State: ListOK}
	}

	state := ListUnavailable
	if IsNotFound(err) {
		state = ListNotInstalled
	}
	metrics.CustomListFallbacks.WithLabelValues(rs.r.plural, string(state)).Inc()
	rs.c.log.Info("custom resource list failed, returning empty list",
		"resource", rs.r.plural, "namespace", rs.c.namespace(ns), "state", state, "error", err.Error())
	return CustomList[T]{Items: []T{}, State: state, Err: err}
}

// ModelAPIs returns typed operations for ModelAPIs.
func (c *Client) ModelAPIs() CustomResources[kaosv1alpha1.ModelAPI, *kaosv1alpha1.ModelAPI, kaosv1alpha1.ModelAPIList] {
	return CustomResources[kaosv1alpha1.ModelAPI, *kaosv1alpha1.ModelAPI, kaosv1alpha1.ModelAPIList]{
		Resources[kaosv1alpha1.ModelAPI, *kaosv1alpha1.ModelAPI, kaosv1alpha1.ModelAPIList]{c: c, r: modelAPIResource,
			items: func(l *kaosv1alpha1.ModelAPIList) []kaosv1alpha1.ModelAPI { return l.Items }},
	}
}

// MCPServers returns typed operations for MCPServers.
func (c *Client) MCPServers() CustomResources[kaosv1alpha1.MCPServer, *kaosv1alpha1.MCPServer, kaosv1alpha1.MCPServerList] {
	return CustomResources[kaosv1alpha1.MCPServer, *kaosv1alpha1.MCPServer, kaosv1alpha1.MCPServerList]{
		Resources[kaosv1alpha1.MCPServer, *kaosv1alpha1.MCPServer, kaosv1alpha1.MCPServerList]{c: c, r: mcpServerResource,
			items: func(l *kaosv1alpha1.MCPServerList) []kaosv1alpha1.MCPServer { return l.Items }},
	}
}

// Agents returns typed operations for Agents.
func (c *Client) Agents() CustomResources[kaosv1alpha1.Agent, *kaosv1alpha1.Agent, kaosv1alpha1.AgentList] {
	return CustomResources[kaosv1alpha1.Agent, *kaosv1alpha1.Agent, kaosv1alpha1.AgentList]{
		Resources[kaosv1alpha1.Agent, *kaosv1alpha1.Agent, kaosv1alpha1.AgentList]{c: c, r: agentResource,
			items: func(l *kaosv1alpha1.AgentList) []kaosv1alpha1.Agent { return l.Items }},
	}
}

// ListModelAPIs lists ModelAPIs, degrading to an empty list on failure.
func (c *Client) ListModelAPIs(ctx context.Context, ns string) CustomList[kaosv1alpha1.ModelAPI] {
	return c.ModelAPIs().List(ctx, ns)
}

// ListMCPServers lists MCPServers, degrading to an empty list on failure.
func (c *Client) ListMCPServers(ctx context.Context, ns string) CustomList[kaosv1alpha1.MCPServer] {
	return c.MCPServers().List(ctx, ns)
}

// ListAgents lists Agents, degrading to an empty list on failure.
func (c *Client) ListAgents(ctx context.Context, ns string) CustomList[kaosv1alpha1.Agent] {
	return c.Agents().List(ctx, ns)
}
