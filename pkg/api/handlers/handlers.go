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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ric-platform/a1-mediator/pkg/api/middleware"
	"github.com/ric-platform/a1-mediator/pkg/metrics"
	"github.com/ric-platform/a1-mediator/pkg/models"
	"github.com/ric-platform/a1-mediator/pkg/registry"
	"github.com/ric-platform/a1-mediator/pkg/rmr"
	"github.com/ric-platform/a1-mediator/pkg/store"
)

// APIServer implements the northbound policy surface. Handlers validate the
// request, mutate state through the registry and enqueue bus work on the
// loop; they never read or write policy state in the store directly. The
// store is used only by the health probe.
type APIServer struct {
	registry *registry.PolicyRegistry
	loop     *rmr.Loop
	store    store.Store
	logger   *slog.Logger
}

// NewAPIServer creates a new API server with dependencies
func NewAPIServer(reg *registry.PolicyRegistry, loop *rmr.Loop, st store.Store, logger *slog.Logger) *APIServer {
	return &APIServer{
		registry: reg,
		loop:     loop,
		store:    st,
		logger:   logger,
	}
}

// RegisterRoutes wires the full northbound surface onto a Gin engine
func (s *APIServer) RegisterRoutes(r *gin.Engine) {
	a1 := r.Group("/a1-p")
	{
		a1.GET("/healthcheck", s.HealthCheck)
		a1.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})))

		a1.GET("/policytypes", s.ListPolicyTypes)
		a1.PUT("/policytypes/:policy_type_id", s.CreatePolicyType)
		a1.GET("/policytypes/:policy_type_id", s.GetPolicyType)
		a1.DELETE("/policytypes/:policy_type_id", s.DeletePolicyType)

		a1.GET("/policytypes/:policy_type_id/policies", s.ListPolicyInstances)
		a1.PUT("/policytypes/:policy_type_id/policies/:policy_instance_id", s.CreateOrReplacePolicyInstance)
		a1.GET("/policytypes/:policy_type_id/policies/:policy_instance_id", s.GetPolicyInstance)
		a1.DELETE("/policytypes/:policy_type_id/policies/:policy_instance_id", s.DeletePolicyInstance)
		a1.GET("/policytypes/:policy_type_id/policies/:policy_instance_id/status", s.GetPolicyInstanceStatus)
	}

	r.POST("/data-delivery", s.DataDelivery)
}

// typeIDParam parses and range-checks the policy_type_id path parameter.
// Returns false after writing the 400 response.
func (s *APIServer) typeIDParam(c *gin.Context) (int64, bool) {
	raw := c.Param("policy_type_id")
	typeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || !models.ValidPolicyTypeID(typeID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "policy_type_id must be an integer in [1, 2147483647]",
		})
		return 0, false
	}
	return typeID, true
}

// respondError maps registry and store errors onto HTTP status codes
func (s *APIServer) respondError(c *gin.Context, log *slog.Logger, err error) {
	switch {
	case registry.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case registry.IsBadRequestError(err):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case store.IsUnavailableError(err):
		log.Error("Store unavailable", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "store unavailable"})
	default:
		log.Error("Unexpected error", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
	}
}

// HealthCheck implements the liveness probe
// (GET /a1-p/healthcheck)
func (s *APIServer) HealthCheck(c *gin.Context) {
	if !s.loop.Alive() {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "bus loop is not ticking"})
		return
	}
	if !s.store.Healthy(c.Request.Context()) {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "store is unreachable"})
		return
	}
	c.Status(http.StatusOK)
}

// ListPolicyTypes returns the identifiers of all policy types
// (GET /a1-p/policytypes)
func (s *APIServer) ListPolicyTypes(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	ids, err := s.registry.ListTypes(c.Request.Context())
	if err != nil {
		s.respondError(c, log, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, ids)
}

// CreatePolicyType stores a new policy type
// (PUT /a1-p/policytypes/{policy_type_id})
func (s *APIServer) CreatePolicyType(c *gin.Context) {
	metrics.CreatePolicyTypeReqs.Inc()
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "failed to read request body"})
		return
	}

	if err := s.registry.CreateType(c.Request.Context(), typeID, body); err != nil {
		s.respondError(c, log, err)
		return
	}

	log.Info("Policy type created", slog.Int64("policy_type_id", typeID))
	c.Status(http.StatusCreated)
}

// GetPolicyType returns a stored policy type body
// (GET /a1-p/policytypes/{policy_type_id})
func (s *APIServer) GetPolicyType(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}

	body, err := s.registry.GetType(c.Request.Context(), typeID)
	if err != nil {
		s.respondError(c, log, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// DeletePolicyType removes a policy type with no live instances
// (DELETE /a1-p/policytypes/{policy_type_id})
func (s *APIServer) DeletePolicyType(c *gin.Context) {
	metrics.DeletePolicyTypeReqs.Inc()
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}

	if err := s.registry.DeleteType(c.Request.Context(), typeID); err != nil {
		s.respondError(c, log, err)
		return
	}

	log.Info("Policy type deleted", slog.Int64("policy_type_id", typeID))
	c.Status(http.StatusNoContent)
}

// ListPolicyInstances returns the instance identifiers of a policy type
// (GET /a1-p/policytypes/{policy_type_id}/policies)
func (s *APIServer) ListPolicyInstances(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}

	ids, err := s.registry.ListInstances(c.Request.Context(), typeID)
	if err != nil {
		s.respondError(c, log, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}

// CreateOrReplacePolicyInstance validates and stores a policy instance, then
// queues the matching CREATE or UPDATE request for the handlers
// (PUT /a1-p/policytypes/{policy_type_id}/policies/{policy_instance_id})
func (s *APIServer) CreateOrReplacePolicyInstance(c *gin.Context) {
	metrics.CreatePolicyInstanceReqs.Inc()
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}
	instanceID := c.Param("policy_instance_id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "failed to read request body"})
		return
	}

	operation, err := s.registry.CreateOrReplaceInstance(c.Request.Context(), typeID, instanceID, body)
	if err != nil {
		s.respondError(c, log, err)
		return
	}

	s.loop.EnqueuePolicy(operation, typeID, instanceID, body)

	log.Info("Policy instance stored",
		slog.Int64("policy_type_id", typeID),
		slog.String("policy_instance_id", instanceID),
		slog.String("operation", string(operation)))
	c.Status(http.StatusAccepted)
}

// GetPolicyInstance returns a stored policy instance body
// (GET /a1-p/policytypes/{policy_type_id}/policies/{policy_instance_id})
func (s *APIServer) GetPolicyInstance(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}
	instanceID := c.Param("policy_instance_id")

	body, err := s.registry.GetInstance(c.Request.Context(), typeID, instanceID)
	if err != nil {
		s.respondError(c, log, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// DeletePolicyInstance tombstones an instance and queues the DELETE request
// (DELETE /a1-p/policytypes/{policy_type_id}/policies/{policy_instance_id})
func (s *APIServer) DeletePolicyInstance(c *gin.Context) {
	metrics.DeletePolicyInstanceReqs.Inc()
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}
	instanceID := c.Param("policy_instance_id")

	if err := s.registry.DeleteInstance(c.Request.Context(), typeID, instanceID); err != nil {
		s.respondError(c, log, err)
		return
	}

	s.loop.EnqueuePolicy(models.OperationDelete, typeID, instanceID, nil)

	log.Info("Policy instance delete accepted",
		slog.Int64("policy_type_id", typeID),
		slog.String("policy_instance_id", instanceID))
	c.Status(http.StatusAccepted)
}

// GetPolicyInstanceStatus returns instance metadata with the aggregate status
// (GET /a1-p/policytypes/{policy_type_id}/policies/{policy_instance_id}/status)
func (s *APIServer) GetPolicyInstanceStatus(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	typeID, ok := s.typeIDParam(c)
	if !ok {
		return
	}
	instanceID := c.Param("policy_instance_id")

	status, err := s.registry.GetInstanceStatus(c.Request.Context(), typeID, instanceID)
	if err != nil {
		s.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// DataDelivery accepts an enrichment result from the coordinator and queues
// it for delivery to the job's subscriber. The endpoint is a pass-through: a
// result for a job the mediator has never seen is still accepted.
// (POST /data-delivery)
func (s *APIServer) DataDelivery(c *gin.Context) {
	log := middleware.GetLogger(c, s.logger)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "failed to read request body"})
		return
	}

	var delivery struct {
		EIJobID string `json:"ei_job_id"`
		Job     string `json:"job"`
	}
	if err := json.Unmarshal(body, &delivery); err != nil {
		log.Warn("Ignoring malformed data delivery", slog.Any("error", err))
		c.Status(http.StatusOK)
		return
	}

	jobID := delivery.EIJobID
	if jobID == "" {
		jobID = delivery.Job
	}
	if jobID == "" {
		log.Warn("Ignoring data delivery without a job id")
		c.Status(http.StatusOK)
		return
	}

	s.loop.EnqueueEI(jobID, body)
	c.Status(http.StatusOK)
}
