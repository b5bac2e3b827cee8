package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register collectors under the versus namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.roundsProcessed.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				found := false
				for _, f := range families {
					if f.GetName() == "versus_preference_rounds_processed_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_ns"),
				WithSubsystem("test_sub"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and labels should follow the options", func() {
				manager.sessionsStarted.Inc()
				expected := `
# HELP test_ns_test_sub_sessions_started_total Round sessions started
# TYPE test_ns_test_sub_sessions_started_total counter
test_ns_test_sub_sessions_started_total{env="test"} 1
`
				err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_ns_test_sub_sessions_started_total")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording a processed round", func() {
			before := testutil.ToFloat64(globalManager.choicesApplied)
			RecordRoundProcessed(3)

			Convey("Then the choice counter should grow by the choice count", func() {
				So(testutil.ToFloat64(globalManager.choicesApplied)-before, ShouldEqual, 3)
			})
		})

		Convey("When recording store operations", func() {
			RecordStoreOperation("memory", "upsert", nil, 1)
			RecordStoreOperation("memory", "upsert", errors.New("boom"), 1)

			Convey("Then outcomes should be split by label", func() {
				So(testutil.ToFloat64(globalManager.storeOperations.WithLabelValues("memory", "upsert", "ok")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.storeOperations.WithLabelValues("memory", "upsert", "error")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateSessionsActive(7)
			UpdateQueueSize(4)
			UpdateQueueCapacity(100)

			Convey("Then gauges should hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.sessionsActive), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
			})
		})

		Convey("When calling every recorder", func() {
			Convey("Then none should panic", func() {
				So(func() {
					RecordRoundFailed("reference_not_found")
					RecordRelatedCredits(2)
					RecordPropagationLatency(1.5)
					RecordNormalization()
					RecordSkippedEdge("unknown_target")
					RecordPlayerLockWait(0.2)
					RecordSessionStarted()
					RecordSessionFinished("submitted")
					RecordSessionPick("keep-picked")
					RecordItemsSupplied(4)
					RecordQueueEnqueueError("queue_full")
					RecordRoundDuplicate()
					UpdateWorkerCount(2)
					RecordWorkerLatency(3)
					RecordHTTPRequest("rounds", "POST", "200")
					RecordHTTPRequestDuration("rounds", "POST", "200", 2)
					RecordErrorByComponent("engine", "persistence")
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(10)
				}, ShouldNotPanic)
				So(GetRegistry(), ShouldNotBeNil)
			})
		})
	})
}
