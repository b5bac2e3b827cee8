package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/domain/round"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"VERSUS_CONFIG",
	"VERSUS_ADDR",
	"VERSUS_LOG_LEVEL",
	"VERSUS_LOG_FORMAT",
	"VERSUS_STORE_DRIVER",
	"VERSUS_DATABASE_URL",
	"VERSUS_WORKER_COUNT",
	"VERSUS_QUEUE_SIZE",
	"VERSUS_DEFAULT_POLICY",
	"VERSUS_REPLENISH_BATCH",
	"VERSUS_SESSION_TTL_MS",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "versus.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigDefaults(t *testing.T) {
	convey.Convey("Given the default config", t, func() {
		cfg := config.New()

		convey.Convey("Then it is valid and uses the memory driver", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, "memory")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.Policy(), convey.ShouldEqual, round.KeepPicked)
			convey.So(cfg.SessionTTL(), convey.ShouldEqual, 30*time.Minute)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then the defaults come back", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
				convey.So(cfg.RoundItemLimit, convey.ShouldEqual, 50)
			})
		})

		convey.Convey("When environment variables are set", func() {
			_ = os.Setenv("VERSUS_ADDR", ":8080")
			_ = os.Setenv("VERSUS_WORKER_COUNT", "16")
			_ = os.Setenv("VERSUS_STORE_DRIVER", "SQLite")
			_ = os.Setenv("VERSUS_DATABASE_URL", "file:versus.db")
			_ = os.Setenv("VERSUS_DEFAULT_POLICY", "replace-all")
			_ = os.Setenv("VERSUS_SESSION_TTL_MS", "60000")

			cfg, err := config.Load()

			convey.Convey("Then they override the defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "sqlite")
				convey.So(cfg.DatabaseURL, convey.ShouldEqual, "file:versus.db")
				convey.So(cfg.Policy(), convey.ShouldEqual, round.ReplaceAll)
				convey.So(cfg.SessionTTL(), convey.ShouldEqual, time.Minute)
			})
		})

		convey.Convey("When a YAML file is named", func() {
			path := writeConfigFile(t, `
addr: ":9090"
store_driver: badger
badger_path: /var/lib/versus
catalog_file: catalog.yaml
replenish_batch: 4
max_choices_per_round: 20
`)
			_ = os.Setenv("VERSUS_CONFIG", path)

			cfg, err := config.Load()

			convey.Convey("Then its values are used", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "badger")
				convey.So(cfg.BadgerPath, convey.ShouldEqual, "/var/lib/versus")
				convey.So(cfg.CatalogFile, convey.ShouldEqual, "catalog.yaml")
				convey.So(cfg.ReplenishBatch, convey.ShouldEqual, 4)
				convey.So(cfg.MaxChoicesPerRound, convey.ShouldEqual, 20)
			})

			convey.Convey("Then env still wins over the file", func() {
				_ = os.Setenv("VERSUS_ADDR", ":7070")
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, "badger")
			})
		})

		convey.Convey("When the named file does not exist", func() {
			_ = os.Setenv("VERSUS_CONFIG", "/non/existent/versus.yaml")
			_, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the address is emptied", func() {
			_ = os.Setenv("VERSUS_ADDR", "")
			_, err := config.Load()

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		cases := map[string]func(*config.Config){
			"unknown driver":        func(c *config.Config) { c.StoreDriver = "mongo" },
			"postgres without dsn":  func(c *config.Config) { c.StoreDriver = "postgres" },
			"bad log format":        func(c *config.Config) { c.LogFormat = "xml" },
			"zero queue":            func(c *config.Config) { c.QueueSize = 0 },
			"zero batch":            func(c *config.Config) { c.ReplenishBatch = 0 },
			"item limit below two":  func(c *config.Config) { c.RoundItemLimit = 1 },
			"unknown policy":        func(c *config.Config) { c.DefaultPolicy = "shuffle" },
			"non-positive ttl":      func(c *config.Config) { c.SessionTTLMS = 0 },
			"negative choice limit": func(c *config.Config) { c.MaxChoicesPerRound = -1 },
		}

		for name, mutate := range cases {
			convey.Convey("Then "+name+" is rejected", func() {
				cfg := config.New()
				mutate(cfg)
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
