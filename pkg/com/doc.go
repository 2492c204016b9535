// Package com implements typed signals, slots and the connections between
// them.
//
// A Signal delivers a payload to its connected slots either synchronously on
// the emitting goroutine (Emit) or through the worker each slot is bound to
// (AsyncEmit). Connections can be blocked for a scope to suppress the echo of
// a change the owner just made:
//
//	b := conn.Block()
//	obj.Lock()
//	// mutate
//	obj.Unlock()
//	obj.Modified().AsyncEmit(com.Empty{})
//	b.Unblock()
package com
