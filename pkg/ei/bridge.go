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

package ei

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/rmr"
)

const (
	eiTypesPath = "/A1-EI/v1/eitypes"
	eiJobsPath  = "/A1-EI/v1/eijobs/"
)

// Bridge forwards enrichment-information queries and job creation to the
// remote EI coordinator and routes the results back over the bus. Its HTTP
// calls are short and run synchronously within the loop tick.
type Bridge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewBridge creates a bridge against the coordinator at baseURL
func NewBridge(baseURL string, logger *slog.Logger) *Bridge {
	return &Bridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// HandleQueryAll fetches the coordinator's EI type list and returns it to
// the asker. The response body is returned unconditionally; a failed fetch
// produces an empty body so the asker is never left waiting.
func (b *Bridge) HandleQueryAll(ctx context.Context, bus rmr.Bus, msg *rmr.Message) {
	var body []byte

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+eiTypesPath, nil)
	if err != nil {
		b.logger.Warn("Failed to build EI types request", slog.Any("error", err))
	} else {
		resp, err := b.client.Do(req)
		if err != nil {
			b.logger.Warn("EI coordinator unreachable", slog.Any("error", err))
		} else {
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				b.logger.Warn("Failed to read EI types response", slog.Any("error", err))
				body = nil
			}
			if resp.StatusCode != http.StatusOK {
				b.logger.Warn("EI coordinator returned unexpected status",
					slog.Int("status", resp.StatusCode))
			}
		}
	}

	if err := bus.RTS(msg, body, rmr.RICEIQueryAllResp); err != nil {
		b.logger.Warn("Failed to return EI type list", slog.Any("error", err))
	}
}

// HandleCreateJob registers an EI job with the coordinator. The inbound
// payload carries the job id under "job-id"; the rest of the document is the
// job definition. Success is acknowledged over rts; anything else is logged
// and dropped.
func (b *Bridge) HandleCreateJob(ctx context.Context, bus rmr.Bus, msg *rmr.Message) {
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		metrics.BusMessagesDroppedTotal.WithLabelValues("malformed").Inc()
		b.logger.Warn("Dropping malformed EI job request", slog.Any("error", err))
		return
	}

	jobID, ok := payload["job-id"].(string)
	if !ok || jobID == "" {
		metrics.BusMessagesDroppedTotal.WithLabelValues("malformed").Inc()
		b.logger.Warn("Dropping EI job request without job-id")
		return
	}
	delete(payload, "job-id")

	jobBody, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("Failed to encode EI job definition", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+eiJobsPath+jobID, bytes.NewReader(jobBody))
	if err != nil {
		b.logger.Warn("Failed to build EI job request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("EI coordinator unreachable", slog.String("ei_job_id", jobID), slog.Any("error", err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b.logger.Warn("EI coordinator refused job",
			slog.String("ei_job_id", jobID),
			slog.Int("status", resp.StatusCode))
		return
	}

	ack, err := json.Marshal(map[string]string{"ei_job_id": jobID})
	if err != nil {
		b.logger.Warn("Failed to encode EI job ack", slog.Any("error", err))
		return
	}
	if err := bus.RTS(msg, ack, rmr.RICEICreateJobResp); err != nil {
		b.logger.Warn("Failed to return EI job ack", slog.String("ei_job_id", jobID), slog.Any("error", err))
	}

	b.logger.Info("EI job registered", slog.String("ei_job_id", jobID))
}
