package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/versus/internal/adapters/http/api"
	"github.com/okian/versus/internal/adapters/repository"
	app "github.com/okian/versus/internal/app"
	"github.com/okian/versus/internal/domain/model"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndImport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ctl.db")
	t.Setenv("VERSUS_STORE_DRIVER", "sqlite")
	t.Setenv("VERSUS_DATABASE_URL", dsn)

	catalog := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(catalog, []byte(`
items:
  - {id: A}
  - {id: B}
  - {id: C}
edges:
  - {from: A, to: C, weight: 0.5}
`), 0o600); err != nil {
		t.Fatal(err)
	}

	convey.Convey("Given a sqlite database", t, func() {
		convey.Convey("When migrate runs", func() {
			out, err := execute("migrate")

			convey.Convey("Then the schema is created", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "schema ready on sqlite")
			})
		})

		convey.Convey("When a catalog is imported twice", func() {
			_, err := execute("import", catalog)
			convey.So(err, convey.ShouldBeNil)
			out, err := execute("import", catalog)

			convey.Convey("Then the items are upserted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "imported 3 items and 1 edges")

				store, err := repository.OpenSQL(context.Background(), repository.DriverSQLite, dsn)
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = store.Close() }()
				items, err := store.FetchItems(context.Background(), repository.Filter{Count: 10})
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(items), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the catalog file is missing", func() {
			_, err := execute("import", filepath.Join(t.TempDir(), "nope.yaml"))

			convey.Convey("Then import fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestMigrateNeedsSQL(t *testing.T) {
	t.Setenv("VERSUS_STORE_DRIVER", "memory")

	convey.Convey("Given the memory driver", t, func() {
		_, err := execute("migrate")

		convey.Convey("Then migrate refuses to run", func() {
			convey.So(errors.Is(err, repository.ErrUnknownDriver), convey.ShouldBeTrue)
		})
	})
}

func TestScoresAndSimulate(t *testing.T) {
	mem := repository.NewMemoryStore()
	for _, id := range []string{"A", "B", "C"} {
		if err := mem.PutItem(model.Item{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	svc := app.New(app.WithStore(mem), app.WithWorkerCount(1))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	srv := httptest.NewServer(mux)
	defer func() {
		srv.Close()
		_ = svc.Stop(context.Background())
	}()

	convey.Convey("Given a running service", t, func() {
		convey.Convey("When simulate runs and scores are printed", func() {
			out, err := execute("simulate", "--url", srv.URL, "--players", "2", "--workers", "1", "--prefix", "ctl")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "Simulation summary")
			convey.So(out, convey.ShouldContainSubstring, "2 (2 finished, 0 failed)")

			out, err = execute("scores", "ctl-0", "--url", srv.URL, "--top", "2")

			convey.Convey("Then the table lists the top items", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldStartWith, "RANK")
				convey.So(out, convey.ShouldContainSubstring, "1.0000")
				convey.So(bytes.Count([]byte(out), []byte("\n")), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When scores are requested without a player", func() {
			_, err := execute("scores", "--url", srv.URL)

			convey.Convey("Then the arguments are rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}
