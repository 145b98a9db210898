/*
Package health provides health check mechanisms for monitoring worker
process health in devsupervisor.

This package implements HTTP health checks. Health checks detect worker
processes that are alive but unresponsive and feed the supervisor's health
reporting. The supervisor's restart decisions use process liveness only, not
health check results.

# Architecture

The health check system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	         ▼
	   ┌──────────┐
	   │   HTTP   │
	   │ Checker  │
	   └──────────┘
	         │
	         ▼
	    GET /healthz

## Health Check Flow

 1. A caller asks for a worker's health (Supervisor.CheckWorkerHealth,
    reached through GET /admin/servers/{name}/healthz)
 2. Handle.CheckHealth builds an HTTP checker for the worker's /healthz
    and runs one check
 3. If check fails: increment consecutive failures
 4. If failures >= Retries: mark worker unhealthy
 5. The admin API reports the current state

Nothing in devsupervisor runs checks on a timer: a check runs only when one
is requested. The Interval-driven loop under Usage Examples is an example
for callers of this package.

# HTTP Health Checks

HTTP checks perform HTTP requests to verify a worker's health endpoint:

	Check Type: HTTP
	Configuration:
	├── URL: http://127.0.0.1:9000/healthz
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

Example responses:
  - 200 OK → Healthy
  - 503 Service Unavailable → Unhealthy
  - Connection timeout → Unhealthy
  - Connection refused → Unhealthy

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

This allows polymorphic health checking - callers don't need to know the
check type, just call Check() and interpret the Result.

## Result Structure

All checks return a standardized Result:

	type Result struct {
		Healthy   bool          // Check passed?
		Message   string        // Human-readable message
		CheckedAt time.Time     // When check ran
		Duration  time.Duration // How long check took
	}

## Status Tracking

Status tracks health over time:

	type Status struct {
		ConsecutiveFailures  int    // Failure streak
		ConsecutiveSuccesses int    // Success streak
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool   // Current health state
		StartedAt            time.Time
	}

The status implements hysteresis - multiple failures required before marking
unhealthy, preventing flapping from transient issues.

## Configuration

Health checks are configured per worker:

	type Config struct {
		Interval    time.Duration  // Time between checks (default: 30s)
		Timeout     time.Duration  // Max check duration (default: 10s)
		Retries     int            // Failures before unhealthy (default: 3)
		StartPeriod time.Duration  // Grace period for slow startup (default: 0)
	}

# Usage Examples

## HTTP Health Check

	import "github.com/projectforge/devsupervisor/pkg/health"

	// Create HTTP checker
	checker := health.NewHTTPChecker("http://127.0.0.1:9000/healthz")

	// Customize (optional)
	checker.WithMethod("GET").
		WithHeader("User-Agent", "devsupervisor-health/1.0").
		WithStatusRange(200, 299).  // Only 2xx is healthy
		WithTimeout(5 * time.Second)

	// Perform check
	ctx := context.Background()
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Printf("✓ Healthy: %s (took %v)\n", result.Message, result.Duration)
	} else {
		fmt.Printf("✗ Unhealthy: %s\n", result.Message)
	}

	// Output:
	// ✓ Healthy: HTTP 200 OK (took 12ms)

## Health Status Tracking

	// Create status tracker
	status := health.NewStatus()

	// Configure health check
	config := health.Config{
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 30 * time.Second,
	}

	// Simulate health check loop
	checker := health.NewHTTPChecker("http://127.0.0.1:9000/healthz")

	for {
		// Check if in startup grace period
		if status.InStartPeriod(config) {
			fmt.Println("in startup period, skipping health check")
			time.Sleep(config.Interval)
			continue
		}

		// Run health check
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		result := checker.Check(ctx)
		cancel()

		// Update status
		status.Update(result, config)

		// Check if unhealthy
		if !status.Healthy {
			fmt.Printf("worker unhealthy after %d failures\n",
				status.ConsecutiveFailures)
			break
		}

		time.Sleep(config.Interval)
	}

# Integration Points

## Worker Process Integration

workerproc.Handle wires a health checker to each supervised process:

 1. Supervisor starts the worker process
 2. Handle.CheckHealth probes the worker's /healthz endpoint
 3. Results feed a Status, applying the consecutive-failure/success counting above
 4. Handle.IsHealthy reports the current state to callers

## Admin API Integration

The admin API exposes per-worker health over HTTP:

	GET /admin/servers/{name}/healthz
	  200 {"healthy": true}   - worker answered its health endpoint
	  503 {"healthy": false}  - worker failed its consecutive-failure threshold
	  404                      - unknown project

# Design Patterns

## Builder Pattern

Checkers use fluent builders for configuration:

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

This provides clean, readable configuration with optional parameters.

## Hysteresis Pattern

Status tracking implements hysteresis to prevent flapping:

	Healthy → 1 failure → Still healthy
	Healthy → 2 failures → Still healthy
	Healthy → 3 failures → Unhealthy!

	Unhealthy → 1 success → Healthy!

This prevents oscillation from transient issues while still responding to
persistent problems.

## Context-Based Cancellation

All checks respect context deadlines:

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := checker.Check(ctx)  // Respects timeout

This enables proper timeout handling and resource cleanup.

# Best Practices

1. Health Check Design
  - Return quickly (< 1 second ideal)
  - Don't overwhelm backend dependencies
  - Return detailed status in the response body

2. Configuration Tuning
  - Set Interval = 10-30s (balance detection vs. overhead)
  - Set Timeout = 5-10s (2x expected response time)
  - Set Retries = 3 (tolerate transients)
  - Set StartPeriod = 2x worker startup time

3. Worker Integration
  - Implement /healthz in every worker project
  - Return 200 when healthy, a non-2xx status when not
  - Test the health endpoint with curl before deploying

# Security Considerations

  - Health endpoints should not require authentication
  - Don't expose sensitive information in health responses

# See Also

  - pkg/workerproc - Runs health checks against supervised worker processes
  - pkg/supervisor - Surfaces CheckWorkerHealth to the admin API
  - pkg/adminapi - Exposes GET /admin/servers/{name}/healthz
*/
package health
