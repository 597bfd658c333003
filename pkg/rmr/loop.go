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

package rmr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/models"
	"github.com/ric-platform/a1-mediator/pkg/registry"
)

const (
	// queueCapacity bounds each outbound queue; enqueue drops on overflow
	// because emission is best-effort and replay recovers correctness
	queueCapacity = 4096

	// staleTickThreshold is how old the last tick may be before the loop is
	// considered dead by the health probe
	staleTickThreshold = 30 * time.Second
)

var recvFilter = []int{RICPolicyResponse, RICPolicyQuery, RICEIQueryAll, RICEICreateJob}

type queuedPolicy struct {
	operation  models.Operation
	typeID     int64
	instanceID string
	payload    []byte
}

type queuedEI struct {
	jobID   string
	payload []byte
}

// Loop is the single background worker coupling the registry to the bus: it
// drains the outbound queues, ingests inbound traffic and dispatches it.
type Loop struct {
	bus       Bus
	registry  *registry.PolicyRegistry
	eiHandler EIHandler
	logger    *slog.Logger

	retryTimes int

	// TickInterval is how often the loop runs; overridable before Start
	TickInterval time.Duration

	sendQueue chan queuedPolicy
	eiQueue   chan queuedEI

	lastTick atomic.Int64 // unix nanoseconds
	running  atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates the bus loop. retryTimes is the per-send retry budget
// within one tick.
func NewLoop(bus Bus, reg *registry.PolicyRegistry, eiHandler EIHandler, logger *slog.Logger, retryTimes int) *Loop {
	return &Loop{
		bus:          bus,
		registry:     reg,
		eiHandler:    eiHandler,
		logger:       logger,
		retryTimes:   retryTimes,
		TickInterval: time.Second,
		sendQueue:    make(chan queuedPolicy, queueCapacity),
		eiQueue:      make(chan queuedEI, queueCapacity),
	}
}

// Start waits for the bus to become ready and launches the loop worker
func (l *Loop) Start(ctx context.Context) error {
	for !l.bus.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("bus did not become ready: %w", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.lastTick.Store(time.Now().UnixNano())
	l.running.Store(true)

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("Bus loop started", slog.Duration("tick_interval", l.TickInterval))
	return nil
}

// Stop terminates the loop at the next tick boundary. In-flight sends are
// not cancelled; the queues are not drained.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.running.Store(false)
	l.bus.Close()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick performs one loop iteration. The queue drain runs on a detached
// worker: a blocking first-contact send must not stall ingestion, or the
// health probe would trip on a slow endpoint.
func (l *Loop) tick(ctx context.Context) {
	go l.drainQueues()

	msgs := l.bus.RecvBatch(recvFilter)
	for _, msg := range msgs {
		metrics.BusMessagesReceivedTotal.WithLabelValues(MessageTypeName(msg.MType)).Inc()
		func() {
			defer l.bus.Free(msg)
			l.dispatch(ctx, msg)
		}()
	}

	l.lastTick.Store(time.Now().UnixNano())
}

// EnqueuePolicy queues a policy request envelope for the next drain. The
// payload is empty for DELETE.
func (l *Loop) EnqueuePolicy(op models.Operation, typeID int64, instanceID string, payload []byte) {
	select {
	case l.sendQueue <- queuedPolicy{operation: op, typeID: typeID, instanceID: instanceID, payload: payload}:
	default:
		metrics.BusSendFailuresTotal.Inc()
		l.logger.Warn("Policy send queue full, dropping envelope",
			slog.String("operation", string(op)),
			slog.Int64("policy_type_id", typeID),
			slog.String("policy_instance_id", instanceID))
	}
}

// EnqueueEI queues an enrichment delivery for the next drain
func (l *Loop) EnqueueEI(jobID string, payload []byte) {
	select {
	case l.eiQueue <- queuedEI{jobID: jobID, payload: payload}:
	default:
		metrics.BusSendFailuresTotal.Inc()
		l.logger.Warn("EI send queue full, dropping delivery", slog.String("ei_job_id", jobID))
	}
}

// drainQueues empties both outbound queues, emitting each envelope
func (l *Loop) drainQueues() {
policyQueue:
	for {
		select {
		case work := <-l.sendQueue:
			payload, err := EncodePolicyRequest(work.operation, work.typeID, work.instanceID, work.payload)
			if err != nil {
				l.logger.Warn("Failed to encode policy request", slog.Any("error", err))
				continue
			}
			l.sendWithRetry(payload, RICPolicyRequest, int(work.typeID))
		default:
			break policyQueue
		}
	}

	for {
		select {
		case work := <-l.eiQueue:
			payload, err := EncodeEIDelivery(work.jobID, work.payload)
			if err != nil {
				l.logger.Warn("Failed to encode EI delivery", slog.Any("error", err))
				continue
			}
			l.sendWithRetry(payload, RICEIDelivery, eiSubID(work.jobID))
		default:
			return
		}
	}
}

// eiSubID derives the bus subscription id from a job id. Non-numeric job ids
// are sent unfiltered.
func eiSubID(jobID string) int {
	if id, err := strconv.Atoi(jobID); err == nil {
		return id
	}
	return SubIDUnset
}

// sendWithRetry attempts one send, retrying up to the budget while the bus
// reports retry. On exhaustion the envelope is dropped: emission is
// best-effort and the replay path restores correctness.
func (l *Loop) sendWithRetry(payload []byte, mtype, subID int) {
	var err error
	for attempt := 0; attempt <= l.retryTimes; attempt++ {
		if attempt > 0 {
			metrics.BusSendRetriesTotal.Inc()
		}
		err = l.bus.Send(payload, mtype, subID)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrRetry) {
			break
		}
	}
	metrics.BusSendFailuresTotal.Inc()
	l.logger.Warn("Dropping bus send after retries",
		slog.String("message_type", MessageTypeName(mtype)),
		slog.Int("sub_id", subID),
		slog.Any("error", err))
}

// dispatch routes one inbound message by its type
func (l *Loop) dispatch(ctx context.Context, msg *Message) {
	switch msg.MType {
	case RICPolicyResponse:
		l.handlePolicyResponse(ctx, msg)
	case RICPolicyQuery:
		l.handlePolicyQuery(ctx, msg)
	case RICEIQueryAll:
		l.eiHandler.HandleQueryAll(ctx, l.bus, msg)
	case RICEICreateJob:
		l.eiHandler.HandleCreateJob(ctx, l.bus, msg)
	default:
		metrics.BusMessagesDroppedTotal.WithLabelValues("unexpected_type").Inc()
		l.logger.Warn("Ignoring unexpected message type", slog.Int("mtype", msg.MType))
	}
}

func (l *Loop) handlePolicyResponse(ctx context.Context, msg *Message) {
	resp, err := DecodePolicyResponse(msg.Payload)
	if err != nil {
		metrics.BusMessagesDroppedTotal.WithLabelValues("malformed").Inc()
		l.logger.Warn("Dropping malformed policy response", slog.Any("error", err))
		return
	}

	err = l.registry.SetStatus(ctx, resp.PolicyTypeID, resp.PolicyInstanceID, resp.HandlerID, resp.Status)
	if err != nil {
		if registry.IsNotFoundError(err) {
			metrics.BusMessagesDroppedTotal.WithLabelValues("unknown_instance").Inc()
			l.logger.Warn("Dropping ack for unknown policy instance",
				slog.Int64("policy_type_id", resp.PolicyTypeID),
				slog.String("policy_instance_id", resp.PolicyInstanceID),
				slog.String("handler_id", resp.HandlerID))
			return
		}
		l.logger.Error("Failed to record handler status", slog.Any("error", err))
		return
	}

	l.logger.Debug("Recorded handler status",
		slog.Int64("policy_type_id", resp.PolicyTypeID),
		slog.String("policy_instance_id", resp.PolicyInstanceID),
		slog.String("handler_id", resp.HandlerID),
		slog.String("status", resp.Status))
}

// handlePolicyQuery replays every live instance of the queried type back to
// the asking handler, one CREATE request per instance
func (l *Loop) handlePolicyQuery(ctx context.Context, msg *Message) {
	query, err := DecodePolicyQuery(msg.Payload)
	if err != nil {
		metrics.BusMessagesDroppedTotal.WithLabelValues("malformed").Inc()
		l.logger.Warn("Dropping malformed policy query", slog.Any("error", err))
		return
	}

	instances, err := l.registry.ListInstances(ctx, query.PolicyTypeID)
	if err != nil {
		if registry.IsNotFoundError(err) {
			metrics.BusMessagesDroppedTotal.WithLabelValues("unknown_type").Inc()
			l.logger.Warn("Dropping query for unknown policy type",
				slog.Int64("policy_type_id", query.PolicyTypeID))
			return
		}
		l.logger.Error("Failed to list instances for replay", slog.Any("error", err))
		return
	}

	for _, instanceID := range instances {
		body, err := l.registry.GetInstance(ctx, query.PolicyTypeID, instanceID)
		if err != nil {
			// Purged between listing and read; nothing to replay
			l.logger.Warn("Skipping replay of vanished instance",
				slog.Int64("policy_type_id", query.PolicyTypeID),
				slog.String("policy_instance_id", instanceID))
			continue
		}
		payload, err := EncodePolicyRequest(models.OperationCreate, query.PolicyTypeID, instanceID, body)
		if err != nil {
			l.logger.Warn("Failed to encode replay request", slog.Any("error", err))
			continue
		}
		if err := l.bus.RTS(msg, payload, RICPolicyRequest); err != nil {
			l.logger.Warn("Failed to return replay request",
				slog.Int64("policy_type_id", query.PolicyTypeID),
				slog.String("policy_instance_id", instanceID),
				slog.Any("error", err))
		}
	}

	l.logger.Debug("Replayed policy instances",
		slog.Int64("policy_type_id", query.PolicyTypeID),
		slog.Int("count", len(instances)))
}

// Alive reports whether the loop worker is running and ticking
func (l *Loop) Alive() bool {
	if !l.running.Load() {
		return false
	}
	last := time.Unix(0, l.lastTick.Load())
	return time.Since(last) < staleTickThreshold
}

// LastTick returns when the loop last completed a tick
func (l *Loop) LastTick() time.Time {
	return time.Unix(0, l.lastTick.Load())
}
