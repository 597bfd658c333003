/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "a1_mediator"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	CreatePolicyTypeReqs     prometheus.Counter
	DeletePolicyTypeReqs     prometheus.Counter
	CreatePolicyInstanceReqs prometheus.Counter
	DeletePolicyInstanceReqs prometheus.Counter

	BusMessagesReceivedTotal *prometheus.CounterVec
	BusMessagesDroppedTotal  *prometheus.CounterVec
	BusSendRetriesTotal      prometheus.Counter
	BusSendFailuresTotal     prometheus.Counter

	InstanceDeletesFinalizedTotal prometheus.Counter

	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	Up prometheus.Gauge
)

func initMetrics() {
	CreatePolicyTypeReqs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "create_policy_type_reqs_total",
		Help:      "Total number of create policy type requests",
	})

	DeletePolicyTypeReqs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delete_policy_type_reqs_total",
		Help:      "Total number of delete policy type requests",
	})

	CreatePolicyInstanceReqs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "create_policy_instance_reqs_total",
		Help:      "Total number of create policy instance requests",
	})

	DeletePolicyInstanceReqs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delete_policy_instance_reqs_total",
		Help:      "Total number of delete policy instance requests",
	})

	BusMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_received_total",
			Help:      "Total number of bus messages received by message type",
		},
		[]string{"message_type"},
	)

	BusMessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_dropped_total",
			Help:      "Total number of inbound bus messages dropped",
		},
		[]string{"reason"},
	)

	BusSendRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_send_retries_total",
		Help:      "Total number of bus send retries",
	})

	BusSendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_send_failures_total",
		Help:      "Total number of outbound bus messages dropped (send failed or queue full)",
	})

	InstanceDeletesFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_deletes_finalized_total",
		Help:      "Total number of instance deletes purged after the grace window",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method", "endpoint"},
	)

	Up = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "up",
		Help:      "Mediator liveness indicator (1=up, 0=down)",
	})
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		CreatePolicyTypeReqs,
		DeletePolicyTypeReqs,
		CreatePolicyInstanceReqs,
		DeletePolicyInstanceReqs,
		BusMessagesReceivedTotal,
		BusMessagesDroppedTotal,
		BusSendRetriesTotal,
		BusSendFailuresTotal,
		InstanceDeletesFinalizedTotal,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		Up,
	)

	Up.Set(1)
}

// Init initializes the metrics registry with all collectors
func Init() *prometheus.Registry {
	once.Do(func() {
		initMetrics()
		initRegistry()
	})
	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}
