// Package metrics 提供 Prometheus helper，包含引擎业务指标与通用 HTTP/DB 模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hemanthK-supraoracles/perpetuals/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 数据库查询计数
	DBQueriesTotal prometheus.Counter
	// 数据库查询耗时
	DBQueryDuration prometheus.Histogram

	// 业务指标
	PositionsOpenedTotal prometheus.Counter
	PositionsClosedTotal prometheus.Counter
	PositionsActive      prometheus.Gauge
	TradeRejectionsTotal *prometheus.CounterVec
	FundingSweepsTotal   prometheus.Counter
	FundingPaymentsTotal prometheus.Counter
	LiquidityEventsTotal *prometheus.CounterVec
	PoolBalance          *prometheus.GaugeVec
	OpenInterest         *prometheus.GaugeVec
	OutboxPendingGauge   prometheus.Gauge
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		DBQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "db_queries_total",
			Help:      "Total database queries",
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		PositionsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "positions_opened_total",
			Help:      "Total positions opened",
		}),
		PositionsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "positions_closed_total",
			Help:      "Total positions closed",
		}),
		PositionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "positions_active",
			Help:      "Number of active positions",
		}),
		TradeRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "trade_rejections_total",
			Help:      "Rejected trade operations by reason",
		}, []string{"reason"}),
		FundingSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "funding_sweeps_total",
			Help:      "Total funding settlement sweep batches",
		}),
		FundingPaymentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "funding_payments_total",
			Help:      "Total funding payments settled into positions",
		}),
		LiquidityEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "liquidity_events_total",
			Help:      "Liquidity add/remove operations",
		}, []string{"op"}),
		PoolBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "pool_balance",
			Help:      "Liquidity pool balance in raw collateral units",
		}, []string{"collateral"}),
		OpenInterest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "open_interest_usd",
			Help:      "Aggregate open interest in USD by market and side",
		}, []string{"market", "side"}),
		OutboxPendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "perpetuals",
			Subsystem: serviceName,
			Name:      "outbox_pending",
			Help:      "Unrelayed outbox messages",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.PositionsOpenedTotal,
		m.PositionsClosedTotal,
		m.PositionsActive,
		m.TradeRejectionsTotal,
		m.FundingSweepsTotal,
		m.FundingPaymentsTotal,
		m.LiquidityEventsTotal,
		m.PoolBalance,
		m.OpenInterest,
		m.OutboxPendingGauge,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	http.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()

	return nil
}
