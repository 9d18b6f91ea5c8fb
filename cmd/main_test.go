package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/okian/veracity/internal/app"
	"github.com/okian/veracity/internal/config"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		t.Setenv("VERACITY_ADDR", ":8080")
		t.Setenv("VERACITY_QUEUE_SIZE", "1000")
		t.Setenv("VERACITY_WORKER_COUNT", "4")

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})

	convey.Convey("Given an empty listen address", t, func() {
		t.Setenv("VERACITY_ADDR", "")

		convey.Convey("Then configuration loading should fail", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestInitLogging(t *testing.T) {
	convey.Convey("Given a config with a log file", t, func() {
		cfg := config.New(context.Background())
		cfg.LogFormat = "json"
		cfg.LogFile = filepath.Join(t.TempDir(), "validator.log")

		convey.Convey("Then logging writes to it", func() {
			convey.So(initLogging(cfg), convey.ShouldBeNil)
			logger.Get().Info(context.Background(), "hello")
			convey.So(logger.Sync(), convey.ShouldBeNil)
			raw, err := os.ReadFile(cfg.LogFile)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(raw), convey.ShouldContainSubstring, `"msg":"hello"`)
			convey.So(logger.Init(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given an unknown log format", t, func() {
		cfg := config.New(context.Background())
		cfg.LogFormat = "xml"

		convey.Convey("Then initialization fails", func() {
			convey.So(initLogging(cfg), convey.ShouldNotBeNil)
			convey.So(logger.Init(), convey.ShouldBeNil)
		})
	})
}

func TestHTTPServer(t *testing.T) {
	convey.Convey("Given a started service behind the HTTP server", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cfg := config.New(ctx)
		cfg.WorkerCount = 1
		cfg.QueueSize = 8
		fetcher := verify.FetcherFunc(func(context.Context, model.Component, string, time.Time) (verify.Value, error) {
			return verify.Value{}, nil
		})
		svc := app.New(app.WithConfig(cfg), app.WithFetcher(fetcher))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		srv := newHTTPServer(ctx, cfg, svc)

		convey.Convey("Then it carries the configured timeouts", func() {
			convey.So(srv.Addr, convey.ShouldEqual, cfg.Addr)
			convey.So(srv.ReadHeaderTimeout, convey.ShouldEqual, readHeaderTimeout)
		})

		convey.Convey("Then health and stats are served", func() {
			for _, path := range []string{"/healthz", "/stats", "/weights", "/leaderboard?limit=5", "/openapi.yaml"} {
				w := httptest.NewRecorder()
				srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestSystemMetricsUpdater(t *testing.T) {
	convey.Convey("Given a short-lived context", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		convey.Convey("Then the updater returns once it ends", func() {
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
