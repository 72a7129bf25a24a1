package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithMetricPrefix("px"),
				WithHistogramBuckets([]float64{1, 10}),
				WithMetricsEnabled(true),
				WithRefreshInterval(time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			m.gamesRespawned.Inc()

			Convey("Then collectors are registered under the configured names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_unit_px_games_respawned_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
				So(m.refreshInterval, ShouldEqual, time.Second)
			})
		})

		Convey("When creating a disabled manager", func() {
			m := NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(registry))

			Convey("Then nothing is registered", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(families, ShouldBeEmpty)
				So(m.Enabled(), ShouldBeFalse)
			})
		})

		Convey("When creating two managers on the same registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestGlobalRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording lifecycle metrics", func() {
			before := testutil.ToFloat64(globalManager.gamesCreated.WithLabelValues("duel", "create"))
			RecordGameCreated("duel", "create")
			RecordGameCompleted("winner")
			RecordGameRespawned()
			RecordDuelTransition("accepted")
			RecordNotification("winner.announced")
			RecordLifecycleLatency("create", "ok", 3)

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.gamesCreated.WithLabelValues("duel", "create")), ShouldEqual, before+1)
			})
		})

		Convey("When recording sync, roster and queue metrics", func() {
			So(func() {
				RecordRosterPage("users")
				RecordRosterPartial()
				ObserveRosterSize(12)
				RecordChangeEvent("INSERT")
				RecordChangeDuplicate()
				RecordGraphOp("upsert_edges", "ok")
				RecordEdgeBatch("enqueued")
				RecordTrigger("registered")
				RecordRepositoryLatency("get", 1.5)
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.3)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerActiveCount(4)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordHTTPRequest("games", "POST", "201")
				RecordHTTPRequestDuration("games", "POST", "201", 4)
				RecordErrorByComponent("sync", "graph")
				RecordErrorByEndpoint("games", "GET", "not_found")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(8)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)

			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
		})

		Convey("When recording is switched off", func() {
			before := testutil.ToFloat64(globalManager.gamesRespawned)
			SetEnabled(false)
			RecordGameRespawned()
			off := testutil.ToFloat64(globalManager.gamesRespawned)
			SetEnabled(true)
			RecordGameRespawned()

			Convey("Then the helpers skip until it is back on", func() {
				So(off, ShouldEqual, before)
				So(testutil.ToFloat64(globalManager.gamesRespawned), ShouldEqual, before+1)
			})
		})

		Convey("When gathering the custom registry", func() {
			RecordEdgeBatch("applied")
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			Convey("Then every family lives in the arena namespace", func() {
				So(len(families), ShouldBeGreaterThan, 0)
				for _, f := range families {
					So(strings.HasPrefix(f.GetName(), "arena_engine_"), ShouldBeTrue)
				}
			})
		})
	})
}
