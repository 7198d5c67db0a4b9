// Package task connects the lifecycle to the external task system.
//
// The runner never creates or inspects tasks itself. It starts task
// creation through an Initiator, learns what happened through an Inspector
// and reports through an Alerter. The shipped implementations run a
// configured command with the run's ports in its environment and read the
// JSON report that command leaves behind.
package task
