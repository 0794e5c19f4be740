package common

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

type EchoService struct {
	echo *echo.Echo
	port int
}

func NewEchoService(i do.Injector) (*EchoService, error) {
	port := do.MustInvokeNamed[int](i, "port")
	logger := do.MustInvoke[*zap.Logger](i)

	return NewEcho(port, logger), nil
}

func NewEcho(port int, logger *zap.Logger) *EchoService {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = false

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogRequestID: true,
		LogRemoteIP:  true,
		LogStatus:    true,
		LogMethod:    true,
		LogURIPath:   true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP),
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error))

			return nil
		},
	}))
	e.Use(middleware.Recover())

	return &EchoService{
		echo: e,
		port: port,
	}
}

func (s *EchoService) Register(c func(e *echo.Echo)) {
	c(s.echo)
}

// Handler exposes the router, mainly for httptest.
func (s *EchoService) Handler() http.Handler {
	return s.echo
}

func (s *EchoService) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *EchoService) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown echo server: %w", err)
	}

	return nil
}
