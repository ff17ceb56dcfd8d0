// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package im2latex

import "github.com/prometheus/client_golang/prometheus"

var (
	decodeRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "decode_request_ops_total",
			Help:      "The total number of decode requests.",
		},
		[]string{"model", "strategy", "status"},
	)
	tokenGenerationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "token_generation_ops_total",
			Help:      "The total number of tokens generated by the best sequence.",
		},
		[]string{"model", "strategy"},
	)
	budgetExhaustedOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "budget_exhausted_total",
			Help:      "The total number of decodes that stopped on a budget.",
		},
		[]string{"model", "reason"},
	)
	pageDecodeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "page_decode_ops_total",
			Help:      "The total number of document pages decoded.",
		},
		[]string{"model"},
	)

	decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "decode_duration_seconds",
			Help:      "Time taken to decode one input.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model", "strategy"},
	)
	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a model.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"model"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"}, // context
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "im2latex",
			Subsystem: "decoder",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"}, // context
	)
)

func init() {
	prometheus.MustRegister(
		decodeRequestOps,
		tokenGenerationOps,
		budgetExhaustedOps,
		pageDecodeOps,
		decodeDuration,
		modelLoadDuration,
		cacheHits,
		cacheMisses,
	)
}

// RecordDecodeRequest records a finished decode request.
func RecordDecodeRequest(model, strategy, status string) {
	decodeRequestOps.WithLabelValues(model, strategy, status).Inc()
}

// RecordTokenGeneration records generated tokens.
func RecordTokenGeneration(model, strategy string, count int) {
	tokenGenerationOps.WithLabelValues(model, strategy).Add(float64(count))
}

// RecordBudgetExhausted records a decode stopped by its token or time budget.
func RecordBudgetExhausted(model, reason string) {
	budgetExhaustedOps.WithLabelValues(model, reason).Inc()
}

// RecordPageDecode records decoded document pages.
func RecordPageDecode(model string, count int) {
	pageDecodeOps.WithLabelValues(model).Add(float64(count))
}

// RecordDecodeDuration records how long a decode took.
func RecordDecodeDuration(model, strategy string, seconds float64) {
	decodeDuration.WithLabelValues(model, strategy).Observe(seconds)
}

// RecordModelLoadDuration records how long loading a model took.
func RecordModelLoadDuration(model string, seconds float64) {
	modelLoadDuration.WithLabelValues(model).Observe(seconds)
}

// RecordCacheHit records a cache hit.
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}
