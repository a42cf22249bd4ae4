/*
Package ingress implements the traffic switch: it repoints the reverse proxy
at the blue or green environment and records the new active environment in
the registry.

bgctl does not proxy requests itself. It owns one file that the proxy
includes, typically an nginx upstream block, and drives the proxy's own
test and reload commands.

# Switch Protocol

A switch is a single critical section under the registry lock:

	┌──────────┐   ┌───────────┐   ┌──────────┐   ┌──────────┐   ┌──────────┐
	│  render  │──►│   apply   │──►│   test   │──►│  reload  │──►│  record  │
	│ template │   │ atomic mv │   │ nginx -t │   │ -s reload│   │ registry │
	└──────────┘   └───────────┘   └──────────┘   └──────────┘   └──────────┘
	   └──────── ErrSwitchFailure ─────────┘         └─ ErrPartialSwitch ─┘

Render, apply and test failures restore the previous file, so both the proxy
and the registry are unchanged. A reload that fails or outlives
Config.ReloadTimeout, or a registry write that fails afterwards, leaves the
proxy configuration ahead of the registry. That is reported as
ErrPartialSwitch. Re-running the switch, or calling RecordActive once the
operator has confirmed the proxy state, brings the two back in line.

Every failure is a *SwitchError naming the stage:

	var switchErr *ingress.SwitchError
	if errors.As(err, &switchErr) {
		fmt.Printf("switch to %s failed at %s: %v\n",
			switchErr.Target, switchErr.Stage, switchErr.Err)
	}

# Templates

The upstream file is rendered with text/template and the sprig function
library. The default template emits one upstream block per configured
service:

	# bgctl: active=green
	# Managed by bgctl. Changes are overwritten on the next traffic switch.

	upstream backend {
	    server 127.0.0.1:8002;
	    keepalive 32;
	}

The first line is always the marker written by bgctl, whatever the template.
ReadMarker and Switcher.CurrentTarget use it to detect drift between the
proxy and the registry.

# Route Checks

Switcher.RouteChecker returns a health.Checker used by the smoke battery. It
renders the candidate mapping, dials every upstream of the environment and
runs the proxy's configuration test, without modifying anything.
*/
package ingress
