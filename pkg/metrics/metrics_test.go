package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			m.cacheHits.Inc()

			Convey("Then the collectors are registered under the namespace", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make(map[string]bool, len(families))
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_cache_hits_total"], ShouldBeTrue)
				So(names["test_unit_config_anomalies_total"], ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			NewManager(WithPrometheusRegistry(registry))
			So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
		})
	})
}

func TestRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording cache activity", func() {
			hits := testutil.ToFloat64(globalManager.cacheHits)
			fetches := testutil.ToFloat64(globalManager.cacheFetches)
			RecordCacheHit()
			RecordCacheHit()
			RecordCacheFetch(12)

			So(testutil.ToFloat64(globalManager.cacheHits), ShouldEqual, hits+2)
			So(testutil.ToFloat64(globalManager.cacheFetches), ShouldEqual, fetches+1)
		})

		Convey("When recording a bulk reset", func() {
			before := testutil.ToFloat64(globalManager.scoresReset)
			RecordScoresReset(7)
			So(testutil.ToFloat64(globalManager.scoresReset), ShouldEqual, before+7)
		})

		Convey("When recording sync outcomes", func() {
			replaces := testutil.ToFloat64(globalManager.syncFullReplaces)
			RecordSyncApply(3, false)
			RecordSyncApply(40, true)
			RecordSyncPoll("changed")
			So(testutil.ToFloat64(globalManager.syncFullReplaces), ShouldEqual, replaces+1)
			So(testutil.ToFloat64(globalManager.syncPolls.WithLabelValues("changed")), ShouldBeGreaterThanOrEqualTo, 1)
		})

		Convey("When updating gauges", func() {
			UpdateEventQueueDepth(5)
			UpdateCacheEntries(2)
			So(testutil.ToFloat64(globalManager.eventQueueDepth), ShouldEqual, 5)
			So(testutil.ToFloat64(globalManager.cacheEntries), ShouldEqual, 2)
		})

		Convey("When recording the remaining series", func() {
			So(func() {
				RecordScoreUpserted()
				RecordScoreDeleted()
				RecordScoreRejected("out_of_range")
				RecordSubmissionDuplicate()
				RecordEventPublished()
				RecordEventDelivered()
				RecordEventHandlerPanic()
				UpdateEventSubscribers(1)
				RecordRankingComputation(0.4)
				RecordConfigAnomaly()
				RecordScoreDropped("dangling")
				RecordCacheMiss()
				RecordCacheCoalesced()
				RecordCacheInvalidation()
				RecordHTTPRequest("/scores", "PUT", "200")
				RecordHTTPRequestDuration("/scores", "PUT", "200", 3)
				UpdateStreamClients(1)
				RecordError("cache", "fetch")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
