package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// RedisHealthChecker checks event mirror connectivity. Non-critical: the
// mirror is best-effort and research runs without it.
type RedisHealthChecker struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  false,
		Timestamp: startTime,
	}

	err := r.client.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	// Check if degraded (high latency)
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// PostgresHealthChecker checks report store connectivity. Non-critical:
// persistence is optional and research must keep running without it.
type PostgresHealthChecker struct {
	db      *sqlx.DB
	logger  *zap.Logger
	timeout time.Duration
}

// NewPostgresHealthChecker creates a report store health checker
func NewPostgresHealthChecker(db *sqlx.DB, logger *zap.Logger) *PostgresHealthChecker {
	return &PostgresHealthChecker{
		db:      db,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (p *PostgresHealthChecker) Name() string           { return "postgres" }
func (p *PostgresHealthChecker) IsCritical() bool       { return false }
func (p *PostgresHealthChecker) Timeout() time.Duration { return p.timeout }

func (p *PostgresHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "postgres",
		Critical:  false,
		Timestamp: startTime,
	}

	err := p.db.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Postgres ping failed"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := p.db.Stats()

	// Check for connection pool issues
	if stats.OpenConnections >= stats.MaxOpenConnections && stats.MaxOpenConnections > 0 {
		result.Status = StatusDegraded
		result.Message = "Postgres connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Postgres responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Postgres healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
	}

	return result
}

// TemporalHealthChecker checks the workflow engine. Critical: without
// Temporal no research request can run.
type TemporalHealthChecker struct {
	client    client.Client
	namespace string
	logger    *zap.Logger
	timeout   time.Duration
}

// NewTemporalHealthChecker creates a Temporal health checker
func NewTemporalHealthChecker(c client.Client, namespace string, logger *zap.Logger) *TemporalHealthChecker {
	return &TemporalHealthChecker{
		client:    c,
		namespace: namespace,
		logger:    logger,
		timeout:   5 * time.Second,
	}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) IsCritical() bool       { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "temporal",
		Critical:  true,
		Timestamp: startTime,
	}

	resp, err := t.client.WorkflowService().DescribeNamespace(ctx, &workflowservice.DescribeNamespaceRequest{
		Namespace: t.namespace,
	})
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Temporal namespace describe failed"
		result.Details = map[string]interface{}{
			"namespace":  t.namespace,
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 500*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Temporal responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Temporal healthy"
	}

	result.Details = map[string]interface{}{
		"namespace":  resp.GetNamespaceInfo().GetName(),
		"state":      resp.GetNamespaceInfo().GetState().String(),
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// LLMServiceHealthChecker checks the model service HTTP endpoint. Critical:
// every tier needs at least one model call.
type LLMServiceHealthChecker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceHealthChecker creates an LLM service health checker
func NewLLMServiceHealthChecker(baseURL string, logger *zap.Logger) *LLMServiceHealthChecker {
	return &LLMServiceHealthChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string           { return "llm-service" }
func (l *LLMServiceHealthChecker) IsCritical() bool       { return true }
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "llm-service",
		Critical:  true,
		Timestamp: startTime,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service health request could not be built"
		result.Duration = time.Since(startTime)
		return result
	}

	resp, err := l.client.Do(req)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service unreachable"
		result.Details = map[string]interface{}{
			"base_url":   l.baseURL,
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK && result.Duration > 500*time.Millisecond:
		result.Status = StatusDegraded
		result.Message = "LLM service responding but with high latency"
	case resp.StatusCode == http.StatusOK:
		result.Status = StatusHealthy
		result.Message = "LLM service healthy"
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("LLM service returned HTTP %d", resp.StatusCode)
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("LLM service returned HTTP %d", resp.StatusCode)
	}

	result.Details = map[string]interface{}{
		"base_url":    l.baseURL,
		"status_code": resp.StatusCode,
		"latency_ms":  result.Duration.Milliseconds(),
	}

	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
