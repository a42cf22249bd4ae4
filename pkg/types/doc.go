// Package types defines the data model shared by every bgctl package: the
// two environments, the active pointer view, health and smoke outcomes, and
// the DeploymentAttempt that records one CLI invocation.
package types
