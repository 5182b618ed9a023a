// Package dapptest provides test helpers for dapp applications.
//
// It constructs the identical DI graph as [dapp.New] but uses
// [fxtest.App] which fails the test immediately on DI errors.
//
// Example:
//
//	dapptest.SetBaseEnv(t, 18081)
//	app := dapptest.New[TestEnv](t, routing, dapp.WithFx(...))
//	app.RequireStart()
//	t.Cleanup(app.RequireStop)
package dapptest

import (
	"testing"

	"github.com/advdv/dhttp/dapp"
	"go.uber.org/fx/fxtest"
)

// App embeds *fxtest.App for testing dapp applications.
type App struct {
	*fxtest.App
}

// New creates a test app with the same DI graph as [dapp.New].
func New[E dapp.Environment](t testing.TB, routing any, opts ...dapp.Option) *App {
	return &App{App: fxtest.New(t, dapp.FxOptions[E](routing, opts...)...)}
}
