package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simplesurance/nextmerge/internal/runrecord"
)

const metricNamespace = "nextmerge_scheduler"

const (
	mergeAttemptsMetricName = "merge_attempts_total"
	testRunsMetricName      = "test_runs_total"
	roundsMetricName        = "rounds_total"
)

const (
	outcomeLabel = "outcome"
	resultLabel  = "result"
)

type resultLabelVal string

const (
	resultLabelPassedVal resultLabelVal = "passed"
	resultLabelFailedVal resultLabelVal = "failed"
)

type metricCollector struct {
	mergeAttempts *prometheus.CounterVec
	testRuns      *prometheus.CounterVec
	rounds        prometheus.Counter
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		mergeAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergeAttemptsMetricName,
				Help:      "count of merge attempts by outcome",
			},
			[]string{outcomeLabel},
		),
		testRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      testRunsMetricName,
				Help:      "count of test command executions by result",
			},
			[]string{resultLabel},
		),
		rounds: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      roundsMetricName,
				Help:      "count of started merge rounds",
			},
		),
	}
}

func (m *metricCollector) MergeAttemptInc(outcome runrecord.Outcome) {
	m.mergeAttempts.WithLabelValues(string(outcome)).Inc()
}

func (m *metricCollector) TestRunInc(run *runrecord.TestRun) {
	if run.Passed() {
		m.testRuns.WithLabelValues(string(resultLabelPassedVal)).Inc()
		return
	}

	m.testRuns.WithLabelValues(string(resultLabelFailedVal)).Inc()
}

func (m *metricCollector) RoundInc() {
	m.rounds.Inc()
}
