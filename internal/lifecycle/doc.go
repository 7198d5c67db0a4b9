// Package lifecycle runs one client invocation:
//
//	acquire ports -> resolve run permission -> initiate tasks -> inspect/retry -> release ports
//
// The steps are strictly sequential. Once ports are held they are released
// on every exit path, including fatal aborts and an inspector-requested
// termination, which is reported to the caller rather than performed here.
package lifecycle
