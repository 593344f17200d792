// Package metrics 提供Prometheus监控指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paiban/staffplan/pkg/model"
)

const namespace = "staffplan"

// Registry 指标注册表，同时实现引擎的运行回调
type Registry struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	runTotal        *prometheus.CounterVec
	runDuration     prometheus.Histogram
	phaseDuration   *prometheus.HistogramVec
	phaseTotal      *prometheus.CounterVec
	fallbackTotal   *prometheus.CounterVec
	unmetDemand     *prometheus.GaugeVec
	solutionScore   prometheus.Gauge
	coverageRate    prometheus.Gauge
	fairnessGini    *prometheus.GaugeVec
}

// New 创建独立的注册表
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP请求总数",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP请求延迟",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimization_runs_total",
			Help:      "优化运行次数",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimization_run_duration_seconds",
			Help:      "优化运行耗时",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "阶段求解耗时",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"phase", "solver"}),
		phaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phases_total",
			Help:      "阶段执行次数",
		}, []string{"phase", "solver"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_fallbacks_total",
			Help:      "精确求解降级到启发式的次数",
		}, []string{"phase"}),
		unmetDemand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmet_demand",
			Help:      "最近一次运行各阶段未满足的需求人数",
		}, []string{"phase"}),
		solutionScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solution_score",
			Help:      "最近一次运行的目标分数",
		}),
		coverageRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coverage_rate",
			Help:      "最近一次运行的需求覆盖率",
		}),
		fairnessGini: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fairness_gini",
			Help:      "公平性基尼系数",
		}, []string{"metric_type"}),
	}

	r.registry.MustRegister(
		r.requestTotal, r.requestDuration,
		r.runTotal, r.runDuration,
		r.phaseDuration, r.phaseTotal, r.fallbackTotal, r.unmetDemand,
		r.solutionScore, r.coverageRate, r.fairnessGini,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.handler = promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return r
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer 供测试读取指标
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordRequest 记录请求指标
func (r *Registry) RecordRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveRun 记录一次运行
func (r *Registry) ObserveRun(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.runTotal.WithLabelValues(status).Inc()
	r.runDuration.Observe(duration.Seconds())
}

// ObservePhase 记录一个阶段
func (r *Registry) ObservePhase(phase model.Phase, solverName string, fellBack bool, unmet int, duration time.Duration) {
	if r == nil {
		return
	}
	p := string(phase)
	r.phaseTotal.WithLabelValues(p, solverName).Inc()
	r.phaseDuration.WithLabelValues(p, solverName).Observe(duration.Seconds())
	if fellBack {
		r.fallbackTotal.WithLabelValues(p).Inc()
	}
	r.unmetDemand.WithLabelValues(p).Set(float64(unmet))
}

// SetRunQuality 设置最近一次运行的质量指标
func (r *Registry) SetRunQuality(score, coverage, workloadGini, closingGini float64) {
	if r == nil {
		return
	}
	r.solutionScore.Set(score)
	r.coverageRate.Set(coverage)
	r.fairnessGini.WithLabelValues("workload").Set(workloadGini)
	r.fairnessGini.WithLabelValues("closing").Set(closingGini)
}
