package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alexsjones/kaos-console/internal/eventbus"
	"github.com/alexsjones/kaos-console/internal/kube"
)

// customListResponse is a CustomList with its error flattened to text.
type customListResponse[T any] struct {
	Items []T            `json:"items"`
	State kube.ListState `json:"state"`
	Error string         `json:"error,omitempty"`
}

func registerCustom[T any, PT kube.ObjectPointer[T], L any](
	mux *http.ServeMux,
	plural string,
	ops func(*kube.Client) kube.CustomResources[T, PT, L],
	s *Server,
) {
	base := "/api/v1/" + plural

	mux.HandleFunc("GET "+base, func(w http.ResponseWriter, r *http.Request) {
		list := ops(s.Client()).List(r.Context(), namespaceParam(r))
		resp := customListResponse[T]{Items: list.Items, State: list.State}
		if list.Err != nil {
			resp.Error = list.Err.Error()
		}
		writeJSON(w, resp)
	})
	registerItem(mux, plural, func(c *kube.Client) kube.Resources[T, PT, L] { return ops(c).Resources }, s)

	mux.HandleFunc("POST "+base, func(w http.ResponseWriter, r *http.Request) {
		obj, err := decodeBody[T, PT](r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if obj.GetNamespace() == "" {
			obj.SetNamespace(namespaceParam(r))
		}
		out, err := ops(s.Client()).Create(r.Context(), obj)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.resourceChanged(r.Context(), plural, out.GetNamespace(), out.GetName(), "created")
		writeJSONStatus(w, http.StatusCreated, out)
	})

	mux.HandleFunc("PUT "+base+"/{name}", func(w http.ResponseWriter, r *http.Request) {
		obj, err := decodeBody[T, PT](r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		name := r.PathValue("name")
		if obj.GetName() == "" {
			obj.SetName(name)
		}
		if obj.GetName() != name {
			s.writeError(w, r, badRequest("body names %q but the path names %q", obj.GetName(), name))
			return
		}
		if obj.GetNamespace() == "" {
			obj.SetNamespace(namespaceParam(r))
		}
		out, err := ops(s.Client()).Update(r.Context(), obj)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.resourceChanged(r.Context(), plural, out.GetNamespace(), out.GetName(), "updated")
		writeJSON(w, out)
	})
}

func registerCore[T any, PT kube.ObjectPointer[T], L any](
	mux *http.ServeMux,
	plural string,
	ops func(*kube.Client) kube.Resources[T, PT, L],
	s *Server,
) {
	mux.HandleFunc("GET /api/v1/"+plural, func(w http.ResponseWriter, r *http.Request) {
		items, err := ops(s.Client()).List(r.Context(), namespaceParam(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, items)
	})
	registerItem(mux, plural, ops, s)
}

// registerItem adds GET and DELETE on /api/v1/<plural>/{name}.
func registerItem[T any, PT kube.ObjectPointer[T], L any](
	mux *http.ServeMux,
	plural string,
	ops func(*kube.Client) kube.Resources[T, PT, L],
	s *Server,
) {
	item := "/api/v1/" + plural + "/{name}"

	mux.HandleFunc("GET "+item, func(w http.ResponseWriter, r *http.Request) {
		out, err := ops(s.Client()).Get(r.Context(), r.PathValue("name"), namespaceParam(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("DELETE "+item, func(w http.ResponseWriter, r *http.Request) {
		c := s.Client()
		name := r.PathValue("name")
		st, err := ops(c).Delete(r.Context(), name, namespaceParam(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ns := namespaceParam(r)
		if ns == "" {
			ns = c.Config().Namespace
		}
		s.resourceChanged(r.Context(), plural, ns, name, "deleted")
		writeJSON(w, st)
	})
}

func decodeBody[T any, PT kube.ObjectPointer[T]](r *http.Request) (PT, error) {
	obj := PT(new(T))
	if err := json.NewDecoder(r.Body).Decode(obj); err != nil {
		return nil, badRequest("invalid JSON: %v", err)
	}
	return obj, nil
}

func (s *Server) resourceChanged(ctx context.Context, plural, ns, name, action string) {
	s.publish(ctx, eventbus.TopicResourceChanged, map[string]string{
		eventbus.MetaKind:      plural,
		eventbus.MetaNamespace: ns,
		eventbus.MetaName:      name,
		eventbus.MetaAction:    action,
	}, nil)
}

func (s *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	items, err := s.Client().Namespaces().List(r.Context(), "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, items)
}

// podLogs returns the log text, or streams it when follow=true.
func (s *Server) podLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := kube.LogOptions{
		Container:  q.Get("container"),
		Previous:   q.Get("previous") == "true",
		Timestamps: q.Get("timestamps") == "true",
	}
	if v := q.Get("tailLines"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequest("tailLines must be a non-negative integer"))
			return
		}
		opts.TailLines = n
	}
	name := r.PathValue("name")
	c := s.Client()

	if q.Get("follow") != "true" {
		text, err := c.PodLogs(r.Context(), name, namespaceParam(r), opts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)
		return
	}

	rc, err := c.StreamPodLogs(r.Context(), name, namespaceParam(r), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

type scaleRequest struct {
	Replicas *int32 `json:"replicas"`
}

func (s *Server) scaleDeployment(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid JSON: %v", err))
		return
	}
	if req.Replicas == nil || *req.Replicas < 0 {
		s.writeError(w, r, badRequest("replicas must be a non-negative integer"))
		return
	}
	name := r.PathValue("name")
	out, err := s.Client().ScaleDeployment(r.Context(), name, namespaceParam(r), *req.Replicas)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.resourceChanged(r.Context(), "deployments", out.Namespace, name, "scaled")
	writeJSON(w, out)
}

// applyResult reports what happened to one applied document.
type applyResult struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
}

// apply creates or updates every document of a YAML or JSON body. Each
// document is reported on its own; one failure does not stop the rest.
func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	objs, err := kube.DecodeObjects(r.Body)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	c := s.Client()
	results := make([]applyResult, 0, len(objs))
	for _, o := range objs {
		res := applyResult{Kind: string(o.Kind)}
		if m := o.Meta(); m != nil {
			res.Name, res.Namespace = m.GetName(), m.GetNamespace()
		}
		if o.Kind == kube.KindUnknown && o.Unknown != nil {
			res.Kind = o.Unknown.GetKind()
		}
		out, created, err := c.Apply(r.Context(), o)
		switch {
		case err != nil:
			res.Error = err.Error()
		case created:
			res.Action = "created"
		default:
			res.Action = "configured"
		}
		if err == nil {
			if m := out.Meta(); m != nil && m.GetNamespace() != "" {
				res.Namespace = m.GetNamespace()
			}
			if res.Namespace == "" && o.Kind != kube.KindNamespace {
				res.Namespace = c.Config().Namespace
			}
			s.resourceChanged(r.Context(), res.Kind, res.Namespace, res.Name, res.Action)
		}
		results = append(results, res)
	}
	writeJSON(w, results)
}

// serviceRef resolves the Service in front of a KAOS resource. The
// "service" and "port" query parameters override the defaults, which are
// the resource name and port 8000.
func serviceRef(r *http.Request, name string) (kube.ServiceRef, error) {
	q := r.URL.Query()
	ref := kube.ServiceRef{Name: name, Namespace: namespaceParam(r)}
	if v := q.Get("service"); v != "" {
		ref.Name = v
	}
	if v := q.Get("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return kube.ServiceRef{}, badRequest("invalid port %q", v)
		}
		ref.Port = port
	}
	return ref, nil
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	ref, err := serviceRef(r, r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids, err := s.Client().ListModels(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string][]string{"models": ids})
}

func (s *Server) serviceHealth(w http.ResponseWriter, r *http.Request) {
	ref, err := serviceRef(r, r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.Client().ServiceHealth(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) agentCard(w http.ResponseWriter, r *http.Request) {
	ref, err := serviceRef(r, r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	card, err := s.Client().AgentCard(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("fetching agent card: %w", err))
		return
	}
	writeJSON(w, card)
}
