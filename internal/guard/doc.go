// Package guard implements the process-wide privileged-operation interceptor
// chain that keeps an attached diagnostic agent from terminating the host.
//
// Exactly one Interceptor is active at any instant. The host may install its
// own startup policy with SetProcessPolicy; after that the only mutator is
// WithExitGuard, which serializes callers on a single process-wide lock,
// layers an exit-refusing interceptor over the active one for the duration of
// a callback, and restores the previous interceptor on every exit path.
//
// The two exit-refusing variants are:
//
//   - Root: used when nothing was active. Permits every operation except
//     process exit.
//
//   - Delegate: used when an interceptor was active. Forwards every check to
//     it unchanged except process exit, which it always refuses.
//
// Code that wants to terminate the process calls Exit instead of os.Exit so
// that the active interceptor gets a chance to refuse.
package guard
