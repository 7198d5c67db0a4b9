// Package port implements the client's port acquisition and release.
//
// The Allocator is the only component that changes the "used" status of
// pool ports on behalf of a client run:
//
//	Acquire  → DYNAMIC: request N free ports from the Pool, qualify them
//	           as tcp://host:port endpoints
//	           FIXED:   wrap the caller-supplied list, nothing is drawn
//	Release  → return every held pool port; partial failure is reported,
//	           never rolled back or retried
//
// Pool is the narrow contract of the shared pool. LocalPool backs it with
// the Scanner (net.Listen probing) and in-process bookkeeping; the redis
// backend in package redispool shares the bookkeeping across processes.
package port
