package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		m := New(WithRegistry(registry), WithNamespace("test"))

		Convey("When upstream attempts are observed", func() {
			m.ObserveUpstream("codeforces.com", 200, nil, 100*time.Millisecond)
			m.ObserveUpstream("codeforces.com:443", 200, nil, 50*time.Millisecond)
			m.ObserveUpstream("api.github.com", 0, fmt.Errorf("wrap: %w", profile.ErrTimeout), time.Second)

			Convey("Then they are counted by platform and outcome", func() {
				So(testutil.ToFloat64(m.upstreamRequests.WithLabelValues("codeforces", "ok")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.upstreamRequests.WithLabelValues("github", "timeout")), ShouldEqual, 1)
			})
		})

		Convey("When cache lookups are observed", func() {
			m.ObserveCache(profile.CodeChef, CacheIneligible)
			m.ObserveCache(profile.CodeChef, CacheHit)
			m.ObserveCache(profile.CodeChef, CacheHit)

			Convey("Then they are counted by result", func() {
				So(testutil.ToFloat64(m.cacheLookups.WithLabelValues("codechef", CacheHit)), ShouldEqual, 2)
				So(testutil.ToFloat64(m.cacheLookups.WithLabelValues("codechef", CacheIneligible)), ShouldEqual, 1)
			})
		})

		Convey("When the handler is scraped", func() {
			m.ObserveHTTP("profile", 200, 10*time.Millisecond)
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

			Convey("Then it exposes the namespaced series", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `test_http_requests_total{code="200",route="profile"} 1`)
				So(strings.Contains(rec.Body.String(), "go_goroutines"), ShouldBeFalse)
			})
		})
	})
}

func TestOutcome(t *testing.T) {
	Convey("Outcome labels attempts", t, func() {
		So(Outcome(204, nil), ShouldEqual, "ok")
		So(Outcome(404, nil), ShouldEqual, "http_4xx")
		So(Outcome(503, nil), ShouldEqual, "http_5xx")
		So(Outcome(0, profile.ErrNetwork), ShouldEqual, "network")
		So(Outcome(0, errors.New("boom")), ShouldEqual, "unknown")
	})
}

func TestPlatformForHost(t *testing.T) {
	Convey("PlatformForHost maps known hosts", t, func() {
		So(PlatformForHost("www.codechef.com"), ShouldEqual, "codechef")
		So(PlatformForHost("LEETCODE.COM"), ShouldEqual, "leetcode")
		So(PlatformForHost("127.0.0.1:8080"), ShouldEqual, "other")
		So(PlatformForHost("[::1]"), ShouldEqual, "other")
	})
}
