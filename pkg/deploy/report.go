package deploy

import (
	"fmt"

	"github.com/cuemby/bgctl/pkg/types"
)

// Remediation tells the operator what a failed attempt left in place and
// how to continue. It returns "" for successful attempts.
func Remediation(a *types.DeploymentAttempt) string {
	target, previous := a.Target, a.Previous
	switch a.Outcome {
	case types.OutcomeSucceeded, types.OutcomePending:
		return ""

	case types.OutcomeBuildFailed:
		return fmt.Sprintf("%s may be partially started; production traffic was not touched.", target)

	case types.OutcomeHealthTimeout, types.OutcomeSmokeFailed:
		if a.Operation == types.OperationRollback {
			return fmt.Sprintf("traffic stays on %s; %s was left running for inspection.", previous, target)
		}
		return fmt.Sprintf("%s was left running for inspection and traffic stays on %s. Fix it and re-run deploy, or stop it manually.", target, previous)

	case types.OutcomeDeclined:
		return fmt.Sprintf("%s is running and validated; traffic stays on %s. Run 'bgctl switch-traffic %s' to switch later.", target, previous, target)

	case types.OutcomeNotRunning:
		return fmt.Sprintf("%s is not running. Rollback only re-points traffic; start %s or deploy again.", target, target)

	case types.OutcomeSwitchFailed:
		return "the proxy configuration and the registry are unchanged."

	case types.OutcomePartialSwitch:
		return fmt.Sprintf("the proxy configuration now routes to %s but the registry does not record it. Check the proxy, then re-run 'bgctl switch-traffic %s', or add --registry-only once the proxy is confirmed serving %s.", target, target, target)

	case types.OutcomeRegistryFailed:
		return "the active environment could not be read or written; nothing was switched."

	case types.OutcomeCancelled:
		return "interrupted; the registry and proxy keep their last written state."
	}
	return ""
}
