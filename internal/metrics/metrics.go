// Package metrics 提供 eidos-faucet 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_faucet"

// 领取指标
var (
	// ClaimsTotal 领取请求总数
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "领取请求总数",
		},
		[]string{"asset_type", "result"}, // result: success/错误码
	)

	// ClaimDuration 领取处理耗时
	ClaimDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "领取处理耗时(秒)",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"asset_type"},
	)

	// UnrecordedClaimsTotal 已上链但未记录的领取
	UnrecordedClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecorded_claims_total",
			Help:      "交易已提交但本地记录失败的领取数",
		},
		[]string{"asset_type", "chain_id"},
	)

	// PendingClaims 待确认的领取记录数
	PendingClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_claims",
			Help:      "待确认的领取记录数",
		},
	)

	// ClaimConfirmationsTotal 确认结果
	ClaimConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_confirmations_total",
			Help:      "领取交易确认结果",
		},
		[]string{"status"},
	)
)

// 链上查询指标
var (
	// OracleQueriesTotal 链上冷却查询
	OracleQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_queries_total",
			Help:      "链上冷却查询总数",
		},
		[]string{"outcome"}, // ok/not_metered/chain_query_failed
	)

	// OracleCacheTotal 查询缓存命中
	OracleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_cache_total",
			Help:      "链上查询缓存命中情况",
		},
		[]string{"result"}, // hit/miss/error
	)

	// CooldownBackfillsTotal 按链上状态回填的冷却记录
	CooldownBackfillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_backfills_total",
			Help:      "按链上状态回填的冷却记录数",
		},
		[]string{"result"},
	)

	// CircuitBreakerState 熔断器状态
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "熔断器状态 (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// 交易指标
var (
	// TxSubmissionsTotal 交易提交
	TxSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submissions_total",
			Help:      "领取交易提交总数",
		},
		[]string{"asset_type", "status"},
	)

	// TxSubmitDuration 交易提交耗时
	TxSubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_submit_duration_seconds",
			Help:      "交易模拟到广播的耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"chain_id"},
	)
)

// 基础设施指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时(秒)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// KafkaMessagesTotal Kafka 消息
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_total",
			Help:      "Kafka 消息发送总数",
		},
		[]string{"topic", "status"},
	)

	// RetentionPurgedTotal 清理的冷却记录
	RetentionPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_total",
			Help:      "过期清理的冷却记录数",
		},
	)
)

// RecordClaim 记录领取结果
func RecordClaim(assetType, result string, durationSeconds float64) {
	ClaimsTotal.WithLabelValues(assetType, result).Inc()
	ClaimDuration.WithLabelValues(assetType).Observe(durationSeconds)
}

// RecordUnrecordedClaim 记录未落库的已上链领取
func RecordUnrecordedClaim(assetType, chainID string) {
	UnrecordedClaimsTotal.WithLabelValues(assetType, chainID).Inc()
}

// RecordOracleQuery 记录链上查询结果
func RecordOracleQuery(outcome string) {
	OracleQueriesTotal.WithLabelValues(outcome).Inc()
}

// RecordOracleCache 记录缓存命中
func RecordOracleCache(result string) {
	OracleCacheTotal.WithLabelValues(result).Inc()
}

// RecordBackfill 记录冷却回填
func RecordBackfill(success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	CooldownBackfillsTotal.WithLabelValues(result).Inc()
}

// RecordBreakerState 记录熔断器状态
func RecordBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordTxSubmission 记录交易提交
func RecordTxSubmission(assetType, status string) {
	TxSubmissionsTotal.WithLabelValues(assetType, status).Inc()
}

// RecordTxSubmitDuration 记录交易提交耗时
func RecordTxSubmitDuration(chainID string, durationSeconds float64) {
	TxSubmitDuration.WithLabelValues(chainID).Observe(durationSeconds)
}

// RecordConfirmation 记录确认结果
func RecordConfirmation(status string) {
	ClaimConfirmationsTotal.WithLabelValues(status).Inc()
}

// SetPendingClaims 设置待确认数
func SetPendingClaims(n int64) {
	PendingClaims.Set(float64(n))
}

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	KafkaMessagesTotal.WithLabelValues(topic, status).Inc()
}

// RecordRetentionPurge 记录清理数量
func RecordRetentionPurge(n int64) {
	RetentionPurgedTotal.Add(float64(n))
}
