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

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ric-platform/a1-mediator/pkg/api/middleware"
	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/registry"
	"github.com/ric-platform/a1-mediator/pkg/rmr"
	"github.com/ric-platform/a1-mediator/pkg/store"
)

type stubEIHandler struct{}

func (stubEIHandler) HandleQueryAll(ctx context.Context, bus rmr.Bus, msg *rmr.Message)  {}
func (stubEIHandler) HandleCreateJob(ctx context.Context, bus rmr.Bus, msg *rmr.Message) {}

// failingStore wraps a Store and fails selected keys with a given error
type failingStore struct {
	store.Store
	failKeys map[string]error
}

func (f *failingStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err, ok := f.failKeys[key]; ok {
		return nil, err
	}
	return f.Store.Get(ctx, ns, key)
}

func (f *failingStore) Set(ctx context.Context, ns, key string, value []byte) error {
	if err, ok := f.failKeys[key]; ok {
		return err
	}
	return f.Store.Set(ctx, ns, key, value)
}

type testHarness struct {
	router *gin.Engine
	bus    *rmr.ChanBus
	loop   *rmr.Loop
	reg    *registry.PolicyRegistry
}

func newTestHarness(t *testing.T, db store.Store) *testHarness {
	t.Helper()
	metrics.Init()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if db == nil {
		db = store.NewMemoryStore()
	}

	reg := registry.NewPolicyRegistry(db, logger, 150*time.Millisecond, 150*time.Millisecond)
	reg.Finalizer().Start(context.Background())
	t.Cleanup(reg.Finalizer().Stop)

	bus := rmr.NewChanBus()
	loop := rmr.NewLoop(bus, reg, stubEIHandler{}, logger, 1)
	loop.TickInterval = 10 * time.Millisecond
	require.NoError(t, loop.Start(context.Background()))
	t.Cleanup(loop.Stop)

	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(logger),
		middleware.MetricsMiddleware(),
		middleware.ErrorHandlingMiddleware(logger),
	)
	NewAPIServer(reg, loop, db, logger).RegisterRoutes(router)

	return &testHarness{router: router, bus: bus, loop: loop, reg: reg}
}

func (h *testHarness) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

var handlerTestType = []byte(`{
	"policy_type_id": 20000,
	"create_schema": {
		"type": "object",
		"properties": {"threshold": {"type": "integer"}},
		"required": ["threshold"],
		"additionalProperties": false
	}
}`)

func TestHealthCheck(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodGet, "/a1-p/healthcheck", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthCheck_LoopDown(t *testing.T) {
	h := newTestHarness(t, nil)
	h.loop.Stop()

	w := h.do(http.MethodGet, "/a1-p/healthcheck", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodGet, "/a1-p/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a1_mediator_")
}

func TestListPolicyTypes_Empty(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodGet, "/a1-p/policytypes", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCreatePolicyType(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodGet, "/a1-p/policytypes", nil)
	assert.JSONEq(t, `[20000]`, w.Body.String())

	// Round-trip: the stored body is returned as supplied
	w = h.do(http.MethodGet, "/a1-p/policytypes/20000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(handlerTestType), w.Body.String())
}

func TestCreatePolicyType_IDMismatch(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPut, "/a1-p/policytypes/123", handlerTestType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePolicyType_AlreadyExists(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)
	require.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyTypeIDBoundaries(t *testing.T) {
	h := newTestHarness(t, nil)

	typeBody := func(id string) []byte {
		return []byte(`{"policy_type_id":` + id + `,"create_schema":{"type":"object"}}`)
	}

	// Out of range
	w := h.do(http.MethodPut, "/a1-p/policytypes/0", typeBody("0"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPut, "/a1-p/policytypes/2147483648", typeBody("2147483648"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPut, "/a1-p/policytypes/not-a-number", typeBody("1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Range edges are accepted
	w = h.do(http.MethodPut, "/a1-p/policytypes/1", typeBody("1"))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = h.do(http.MethodPut, "/a1-p/policytypes/2147483647", typeBody("2147483647"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGetPolicyType_NotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodGet, "/a1-p/policytypes/404404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePolicyType(t *testing.T) {
	h := newTestHarness(t, nil)

	h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)

	w := h.do(http.MethodDelete, "/a1-p/policytypes/20000", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(http.MethodGet, "/a1-p/policytypes/20000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePolicyType_NotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodDelete, "/a1-p/policytypes/404404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPolicyInstances_TypeNotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodGet, "/a1-p/policytypes/404404/policies", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreatePolicyInstance(t *testing.T) {
	h := newTestHarness(t, nil)

	h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)

	w := h.do(http.MethodPut, "/a1-p/policytypes/20000/policies/inst-1", []byte(`{"threshold":5}`))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = h.do(http.MethodGet, "/a1-p/policytypes/20000/policies", nil)
	assert.JSONEq(t, `["inst-1"]`, w.Body.String())

	w = h.do(http.MethodGet, "/a1-p/policytypes/20000/policies/inst-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"threshold":5}`, w.Body.String())

	// The matching CREATE request reaches the bus
	require.Eventually(t, func() bool {
		return len(h.bus.Sent()) == 1
	}, time.Second, 5*time.Millisecond)

	var req rmr.PolicyRequest
	require.NoError(t, json.Unmarshal(h.bus.Sent()[0].Payload, &req))
	assert.Equal(t, "CREATE", string(req.Operation))
	assert.Equal(t, "inst-1", req.PolicyInstanceID)
}

func TestCreatePolicyInstance_SchemaViolation(t *testing.T) {
	h := newTestHarness(t, nil)

	h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)

	w := h.do(http.MethodPut, "/a1-p/policytypes/20000/policies/inst-1", []byte(`{"not":"expected"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.bus.Sent())
}

func TestCreatePolicyInstance_TypeNotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPut, "/a1-p/policytypes/404404/policies/inst-1", []byte(`{"threshold":5}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeletePolicyInstance_NotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)

	w := h.do(http.MethodDelete, "/a1-p/policytypes/20000/policies/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPolicyInstanceStatus_NotFound(t *testing.T) {
	h := newTestHarness(t, nil)

	h.do(http.MethodPut, "/a1-p/policytypes/20000", handlerTestType)

	w := h.do(http.MethodGet, "/a1-p/policytypes/20000/policies/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	db := &failingStore{
		Store:    store.NewMemoryStore(),
		failKeys: map[string]error{store.TypeKey(111): store.ErrRejected},
	}
	h := newTestHarness(t, db)

	body := []byte(`{"policy_type_id":111,"create_schema":{"type":"object"}}`)
	w := h.do(http.MethodPut, "/a1-p/policytypes/111", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDataDelivery(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPost, "/data-delivery", []byte(`{"ei_job_id":"42","payload":{"result":1}}`))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		return len(h.bus.Sent()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, rmr.RICEIDelivery, h.bus.Sent()[0].MType)
	assert.Equal(t, 42, h.bus.Sent()[0].SubID)
}

func TestDataDelivery_UnknownJobStillAccepted(t *testing.T) {
	h := newTestHarness(t, nil)

	w := h.do(http.MethodPost, "/data-delivery", []byte(`{"payload":{"result":1}}`))
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/data-delivery", []byte(`garbage`))
	assert.Equal(t, http.StatusOK, w.Code)
}
