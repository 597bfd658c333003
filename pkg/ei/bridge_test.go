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
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/rmr"
)

type coordinatorStub struct {
	mu        sync.Mutex
	jobBodies map[string]string
	jobStatus int
	typesBody string
	typeCode  int
}

func newCoordinatorStub() *coordinatorStub {
	return &coordinatorStub{
		jobBodies: map[string]string{},
		jobStatus: http.StatusCreated,
		typesBody: `["type1","type2"]`,
		typeCode:  http.StatusOK,
	}
}

func (c *coordinatorStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/A1-EI/v1/eitypes", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.WriteHeader(c.typeCode)
		io.WriteString(w, c.typesBody)
	})
	mux.HandleFunc("/A1-EI/v1/eijobs/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.jobBodies[r.URL.Path] = string(body)
		w.WriteHeader(c.jobStatus)
	})
	return mux
}

func newTestBridge(t *testing.T) (*Bridge, *coordinatorStub, *rmr.ChanBus) {
	t.Helper()
	metrics.Init()
	stub := newCoordinatorStub()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	bridge := NewBridge(server.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return bridge, stub, rmr.NewChanBus()
}

func TestHandleQueryAll(t *testing.T) {
	bridge, _, bus := newTestBridge(t)

	msg := &rmr.Message{MType: rmr.RICEIQueryAll}
	bridge.HandleQueryAll(context.Background(), bus, msg)

	returned := bus.Returned()
	require.Len(t, returned, 1)
	assert.Equal(t, rmr.RICEIQueryAllResp, returned[0].MType)
	assert.JSONEq(t, `["type1","type2"]`, string(returned[0].Payload))
}

func TestHandleQueryAll_Non200StillAnswers(t *testing.T) {
	bridge, stub, bus := newTestBridge(t)
	stub.typeCode = http.StatusBadGateway
	stub.typesBody = `{"error":"down"}`

	bridge.HandleQueryAll(context.Background(), bus, &rmr.Message{MType: rmr.RICEIQueryAll})

	// The response body is returned unconditionally
	returned := bus.Returned()
	require.Len(t, returned, 1)
	assert.JSONEq(t, `{"error":"down"}`, string(returned[0].Payload))
}

func TestHandleQueryAll_CoordinatorUnreachable(t *testing.T) {
	metrics.Init()
	bridge := NewBridge("http://127.0.0.1:1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus := rmr.NewChanBus()

	bridge.HandleQueryAll(context.Background(), bus, &rmr.Message{MType: rmr.RICEIQueryAll})

	returned := bus.Returned()
	require.Len(t, returned, 1)
	assert.Empty(t, returned[0].Payload)
}

func TestHandleCreateJob(t *testing.T) {
	bridge, stub, bus := newTestBridge(t)

	payload := []byte(`{"job-id":"job-7","ei_type_id":"type1","target_uri":"http://xapp:8080"}`)
	bridge.HandleCreateJob(context.Background(), bus, &rmr.Message{MType: rmr.RICEICreateJob, Payload: payload})

	// The job-id field is stripped before the definition reaches the coordinator
	stub.mu.Lock()
	body := stub.jobBodies["/A1-EI/v1/eijobs/job-7"]
	stub.mu.Unlock()
	assert.JSONEq(t, `{"ei_type_id":"type1","target_uri":"http://xapp:8080"}`, body)

	returned := bus.Returned()
	require.Len(t, returned, 1)
	assert.Equal(t, rmr.RICEICreateJobResp, returned[0].MType)
	assert.JSONEq(t, `{"ei_job_id":"job-7"}`, string(returned[0].Payload))
}

func TestHandleCreateJob_CoordinatorRefuses(t *testing.T) {
	bridge, stub, bus := newTestBridge(t)
	stub.jobStatus = http.StatusConflict

	payload := []byte(`{"job-id":"job-7","ei_type_id":"type1"}`)
	bridge.HandleCreateJob(context.Background(), bus, &rmr.Message{MType: rmr.RICEICreateJob, Payload: payload})

	assert.Empty(t, bus.Returned())
}

func TestHandleCreateJob_MissingJobID(t *testing.T) {
	bridge, stub, bus := newTestBridge(t)

	bridge.HandleCreateJob(context.Background(), bus, &rmr.Message{MType: rmr.RICEICreateJob, Payload: []byte(`{"ei_type_id":"type1"}`)})
	bridge.HandleCreateJob(context.Background(), bus, &rmr.Message{MType: rmr.RICEICreateJob, Payload: []byte(`not json`)})

	assert.Empty(t, bus.Returned())
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Empty(t, stub.jobBodies)
}
