// Package diagnostics provides resource monitoring, crash dump generation,
// process inspection and safe subprocess execution for the leakwatch host.
//
// The package implements four components:
//
//   - ResourceMonitor: periodically samples open file descriptors, goroutines
//     and heap usage, and flags sustained descriptor growth as a likely leak.
//
//   - SafeExecutor: runs a subprocess with stderr merged into stdout, stdin
//     closed, and pipe cleanup guaranteed even when Start fails. A preflight
//     check refuses to spawn when the host is about to run out of descriptors.
//
//   - CrashDumpWriter: captures diagnostic state when a panic is recovered,
//     so an agent that blows up while attaching leaves a trace.
//
//   - ProcessInspector: reads this process's open files, descriptor count and
//     memory usage through gopsutil.
package diagnostics
