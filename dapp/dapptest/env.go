package dapptest

import (
	"strconv"
	"testing"
)

// Env provides a chainable builder for setting [dapp.BaseEnvironment] env
// vars via t.Setenv. Create one with [SetBaseEnv].
type Env struct {
	t testing.TB
}

// SetBaseEnv sets all [dapp.BaseEnvironment] env vars to sensible test
// defaults. Port is required because each test must use a unique port to
// avoid collisions.
//
// Defaults:
//   - DHTTP_HOST: "localhost"
//   - DHTTP_SERVICE_NAME: "test"
//   - DHTTP_LOG_LEVEL: "error"
//   - DHTTP_OTEL_EXPORTER: "none"
//   - DHTTP_OPEN_BROWSER: "false"
//
// Use the returned [Env] to override individual values:
//
//	dapptest.SetBaseEnv(t, 18085).BasePath("/api/").StaticDir(t.TempDir())
func SetBaseEnv(t testing.TB, port int) *Env {
	t.Helper()
	t.Setenv("DHTTP_HOST", "localhost")
	t.Setenv("DHTTP_PORT", strconv.Itoa(port))
	t.Setenv("DHTTP_SERVICE_NAME", "test")
	t.Setenv("DHTTP_LOG_LEVEL", "error")
	t.Setenv("DHTTP_OTEL_EXPORTER", "none")
	t.Setenv("DHTTP_OPEN_BROWSER", "false")
	return &Env{t: t}
}

// ServiceName overrides DHTTP_SERVICE_NAME.
func (e *Env) ServiceName(name string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_SERVICE_NAME", name)
	return e
}

// BasePath overrides DHTTP_BASE_PATH.
func (e *Env) BasePath(path string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_BASE_PATH", path)
	return e
}

// StaticDir overrides DHTTP_STATIC_DIR.
func (e *Env) StaticDir(dir string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_STATIC_DIR", dir)
	return e
}

// RoutesFile overrides DHTTP_ROUTES_FILE.
func (e *Env) RoutesFile(path string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_ROUTES_FILE", path)
	return e
}

// LogLevel overrides DHTTP_LOG_LEVEL.
func (e *Env) LogLevel(level string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_LOG_LEVEL", level)
	return e
}

// BodyTimeout overrides DHTTP_BODY_TIMEOUT.
func (e *Env) BodyTimeout(d string) *Env {
	e.t.Helper()
	e.t.Setenv("DHTTP_BODY_TIMEOUT", d)
	return e
}
