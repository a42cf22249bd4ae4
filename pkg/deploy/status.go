package deploy

import (
	"context"
	"errors"
	"io/fs"

	"github.com/cuemby/bgctl/pkg/metrics"
	"github.com/cuemby/bgctl/pkg/types"
)

// Status is a read-only snapshot of both environments
type Status struct {
	Active       types.Environment         `json:"active,omitempty"`
	Standby      types.Environment         `json:"standby,omitempty"`
	RegistryErr  string                    `json:"registry_error,omitempty"`
	Environments []types.EnvironmentStatus `json:"environments"`

	// ProxyTarget is the environment the live proxy configuration routes to
	ProxyTarget types.Environment `json:"proxy_target,omitempty"`
	ProxyErr    string            `json:"proxy_error,omitempty"`

	// Drift is set when the proxy and the registry disagree, the visible
	// trace of a partial switch
	Drift bool `json:"drift"`
}

// Status reports the registry pointer, whether each environment is running
// and where the proxy points. It has no side effects beyond defaulting an
// absent pointer, and never fails: problems are reported in the result.
func (o *Orchestrator) Status(ctx context.Context) *Status {
	st := &Status{}

	active, err := o.deps.Registry.Active(ctx)
	if err != nil {
		st.RegistryErr = err.Error()
	} else {
		st.Active = active
		st.Standby = active.Other()
		metrics.SetActive(active)
	}

	for _, env := range types.Environments() {
		es := types.EnvironmentStatus{
			Name:    env,
			Project: o.deps.Controller.Project(env),
		}
		running, err := o.deps.Controller.IsRunning(ctx, env)
		if err != nil {
			es.Error = err.Error()
		}
		es.Running = running
		st.Environments = append(st.Environments, es)
	}

	target, err := o.deps.Switcher.CurrentTarget()
	switch {
	case err == nil:
		st.ProxyTarget = target
		st.Drift = st.Active != "" && target != st.Active
	case errors.Is(err, fs.ErrNotExist):
		st.ProxyErr = "proxy configuration not written yet"
	default:
		st.ProxyErr = err.Error()
	}

	return st
}
