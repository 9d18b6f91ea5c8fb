package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a dedicated registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"validator": "v-1"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the configured namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.ledgerWrites.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_ledger_writes_total"], ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics on duplicate collectors", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording scoring outcomes", func() {
			before := testutil.ToFloat64(globalManager.challengesScored.WithLabelValues("no_response"))
			RecordChallengeScored("no_response", 0)

			Convey("Then the state counter moves", func() {
				after := testutil.ToFloat64(globalManager.challengesScored.WithLabelValues("no_response"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording component outcomes", func() {
			before := testutil.ToFloat64(globalManager.componentOutcomes.WithLabelValues("follower_count", "failed"))
			RecordComponentOutcome("follower_count", "failed")
			RecordComponentOutcome("follower_count", "failed")

			Convey("Then each call is counted", func() {
				after := testutil.ToFloat64(globalManager.componentOutcomes.WithLabelValues("follower_count", "failed"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording merge activity", func() {
			before := testutil.ToFloat64(globalManager.mergeConflicts.WithLabelValues("url"))
			RecordMergeConflict("url")

			Convey("Then conflicts are labelled by attribute", func() {
				So(testutil.ToFloat64(globalManager.mergeConflicts.WithLabelValues("url"))-before, ShouldEqual, 1)
			})
		})

		Convey("When setting gauges", func() {
			UpdateQueueSize(12)
			UpdateTotalMiners(3)

			Convey("Then the gauge holds the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 12)
				So(testutil.ToFloat64(globalManager.totalMiners), ShouldEqual, 3)
			})
		})

		Convey("When recording the remaining helpers", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordSubmissionReceived()
					RecordSubmissionDuplicate()
					RecordSchemaViolation()
					RecordScoringLatency(3)
					RecordScoringError()
					RecordLedgerWrite(1.5)
					RecordLedgerWriteError()
					RecordGroundTruthLatency("verified", 12)
					RecordGroundTruthError("verified", "timeout")
					RecordSnapshotLookup("hit")
					RecordMergeNode("Tweet")
					RecordMergeEdge()
					RecordMergeRejected("dangling_edge")
					RecordMergeLatency(4)
					RecordLeaderboardUpdate()
					RecordRepositoryUpdateLatency(0.2)
					RecordRepositoryQueryLatency(0.1)
					UpdateQueueCapacity(100)
					UpdateQueueUtilization(0.12)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					UpdateWorkerCount(4)
					RecordWorkerProcessingLatency(20)
					RecordWorkerError()
					RecordHTTPRequest("/submissions", "POST", "202")
					RecordHTTPRequestDuration("/submissions", "POST", "202", 0.01)
					RecordErrorByComponent("merge", "dangling_edge")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(10)
				}, ShouldNotPanic)
			})
		})

		Convey("When asking for the registry", func() {
			Convey("Then the custom registry is returned", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
