package dapp

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Environment defines the interface that all environment configurations must implement.
// Embed BaseEnvironment in your struct to satisfy this interface.
type Environment interface {
	host() string
	port() int
	basePath() string
	staticDir() string
	serviceName() string
	logLevel() zapcore.Level
	otelExporter() string
	openBrowser() bool
	bodyTimeout() time.Duration
	routesFile() string
}

// BaseEnvironment contains the dispatcher environment variables.
// Embed this in your custom environment struct.
type BaseEnvironment struct {
	Host         string        `env:"DHTTP_HOST" envDefault:"localhost"`
	Port         int           `env:"DHTTP_PORT" envDefault:"8080"`
	BasePath     string        `env:"DHTTP_BASE_PATH" envDefault:"/"`
	StaticDir    string        `env:"DHTTP_STATIC_DIR"`
	ServiceName  string        `env:"DHTTP_SERVICE_NAME" envDefault:"dhttp"`
	LogLevel     zapcore.Level `env:"DHTTP_LOG_LEVEL" envDefault:"info"`
	OtelExporter string        `env:"DHTTP_OTEL_EXPORTER" envDefault:"stdout"`
	OpenBrowser  bool          `env:"DHTTP_OPEN_BROWSER" envDefault:"false"`
	BodyTimeout  time.Duration `env:"DHTTP_BODY_TIMEOUT" envDefault:"1s"`
	RoutesFile   string        `env:"DHTTP_ROUTES_FILE"`
}

func (e BaseEnvironment) host() string {
	return e.Host
}

func (e BaseEnvironment) port() int {
	return e.Port
}

func (e BaseEnvironment) basePath() string {
	return e.BasePath
}

func (e BaseEnvironment) staticDir() string {
	return e.StaticDir
}

func (e BaseEnvironment) serviceName() string {
	return e.ServiceName
}

func (e BaseEnvironment) logLevel() zapcore.Level {
	return e.LogLevel
}

func (e BaseEnvironment) otelExporter() string {
	return e.OtelExporter
}

func (e BaseEnvironment) openBrowser() bool {
	return e.OpenBrowser
}

func (e BaseEnvironment) bodyTimeout() time.Duration {
	return e.BodyTimeout
}

func (e BaseEnvironment) routesFile() string {
	return e.RoutesFile
}

var _ Environment = BaseEnvironment{}

// ParseEnv parses environment variables into the given Environment type. A
// .env file in the working directory is loaded first when present.
func ParseEnv[E Environment]() func() (E, error) {
	return func() (e E, err error) {
		_ = godotenv.Load()

		if err := env.Parse(&e); err != nil {
			return e, errors.Wrap(err, "failed to parse environment")
		}
		return e, nil
	}
}
