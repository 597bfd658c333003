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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ric-platform/a1-mediator/pkg/models"
	"github.com/ric-platform/a1-mediator/pkg/store"
)

// PolicyRegistry owns every write to the policy type, instance, metadata and
// handler-status key families. The bus loop and the HTTP façade both mutate
// state exclusively through it.
type PolicyRegistry struct {
	store     store.Store
	finalizer *Finalizer
	logger    *slog.Logger

	respTTL   time.Duration // grace window when at least one handler acked
	noRespTTL time.Duration // grace window when no handler acked

	now func() time.Time
}

// NewPolicyRegistry creates a registry over the given store. The grace
// windows govern how long a deleted instance lingers before the finalizer
// purges it.
func NewPolicyRegistry(s store.Store, logger *slog.Logger, respTTL, noRespTTL time.Duration) *PolicyRegistry {
	r := &PolicyRegistry{
		store:     s,
		logger:    logger,
		respTTL:   respTTL,
		noRespTTL: noRespTTL,
		now:       time.Now,
	}
	r.finalizer = NewFinalizer(r.purgeInstance, logger)
	return r
}

// Finalizer returns the delete finalizer so the entrypoint can start and
// stop its worker
func (r *PolicyRegistry) Finalizer() *Finalizer {
	return r.finalizer
}

// ListTypes returns the identifiers of every existing policy type
func (r *PolicyRegistry) ListTypes(ctx context.Context) ([]int64, error) {
	entries, err := r.store.FindAndGet(ctx, store.Namespace, store.TypePrefix())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	for key := range entries {
		id, ok := store.TypeIDFromKey(key)
		if !ok {
			r.logger.Warn("Skipping malformed policy type key", slog.String("key", key))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateType stores a new policy type. The body must carry a policy_type_id
// equal to typeID and a create_schema document; nothing else is validated.
func (r *PolicyRegistry) CreateType(ctx context.Context, typeID int64, body []byte) error {
	pt, ok := models.ParsePolicyType(body)
	if !ok {
		return fmt.Errorf("%w: policy_type_id and create_schema are required", ErrBadTypeBody)
	}
	if !models.ValidPolicyTypeID(pt.PolicyTypeID) {
		return fmt.Errorf("%w: policy_type_id %d out of range", ErrBadTypeBody, pt.PolicyTypeID)
	}
	if pt.PolicyTypeID != typeID {
		return fmt.Errorf("%w: key %d, body %d", ErrTypeIDMismatch, typeID, pt.PolicyTypeID)
	}

	_, err := r.store.Get(ctx, store.Namespace, store.TypeKey(typeID))
	if err == nil {
		return fmt.Errorf("%w: %d", ErrTypeAlreadyExists, typeID)
	}
	if !store.IsNotFoundError(err) {
		return err
	}

	return r.store.Set(ctx, store.Namespace, store.TypeKey(typeID), body)
}

// GetType returns the stored policy type body
func (r *PolicyRegistry) GetType(ctx context.Context, typeID int64) ([]byte, error) {
	body, err := r.store.Get(ctx, store.Namespace, store.TypeKey(typeID))
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %d", ErrTypeNotFound, typeID)
		}
		return nil, err
	}
	return body, nil
}

// DeleteType removes a policy type. It refuses while any instance of the
// type exists.
func (r *PolicyRegistry) DeleteType(ctx context.Context, typeID int64) error {
	if _, err := r.GetType(ctx, typeID); err != nil {
		return err
	}

	instances, err := r.store.FindAndGet(ctx, store.Namespace, store.InstancePrefix(typeID))
	if err != nil {
		return err
	}
	if len(instances) > 0 {
		return fmt.Errorf("%w: type %d has %d instances", ErrTypeNotEmpty, typeID, len(instances))
	}

	return r.store.Delete(ctx, store.Namespace, store.TypeKey(typeID))
}

// ListInstances returns the instance identifiers of a policy type
func (r *PolicyRegistry) ListInstances(ctx context.Context, typeID int64) ([]string, error) {
	if _, err := r.GetType(ctx, typeID); err != nil {
		return nil, err
	}

	entries, err := r.store.FindAndGet(ctx, store.Namespace, store.InstancePrefix(typeID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for key := range entries {
		if id, ok := store.InstanceIDFromKey(key, typeID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CreateOrReplaceInstance validates the body against the owning type's
// create_schema and writes the instance with fresh metadata. On replace,
// handler statuses of the previous generation are purged first: statuses
// belong to the current instance generation only.
func (r *PolicyRegistry) CreateOrReplaceInstance(ctx context.Context, typeID int64, instanceID string, body []byte) (models.Operation, error) {
	typeBody, err := r.GetType(ctx, typeID)
	if err != nil {
		return "", err
	}

	pt, ok := models.ParsePolicyType(typeBody)
	if !ok {
		return "", fmt.Errorf("%w: stored type %d is malformed", ErrBadTypeBody, typeID)
	}
	if err := validateAgainstSchema(pt.CreateSchema, body); err != nil {
		return "", err
	}

	operation := models.OperationCreate
	_, err = r.store.Get(ctx, store.Namespace, store.InstanceKey(typeID, instanceID))
	switch {
	case err == nil:
		operation = models.OperationUpdate
		if err := r.purgeHandlerStatuses(ctx, typeID, instanceID); err != nil {
			return "", err
		}
	case store.IsNotFoundError(err):
		// First generation of this instance
	default:
		return "", err
	}

	if err := r.store.Set(ctx, store.Namespace, store.InstanceKey(typeID, instanceID), body); err != nil {
		return "", err
	}

	meta := models.InstanceMetadata{
		CreatedAt:      r.now().Unix(),
		HasBeenDeleted: false,
	}
	metaBody, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, store.Namespace, store.MetadataKey(typeID, instanceID), metaBody); err != nil {
		return "", err
	}

	return operation, nil
}

// GetInstance returns the stored policy instance body
func (r *PolicyRegistry) GetInstance(ctx context.Context, typeID int64, instanceID string) ([]byte, error) {
	body, err := r.store.Get(ctx, store.Namespace, store.InstanceKey(typeID, instanceID))
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %d/%s", ErrInstanceNotFound, typeID, instanceID)
		}
		return nil, err
	}
	return body, nil
}

// DeleteInstance tombstones an instance and arms the finalizer. The instance
// stays readable until the grace window expires; repeat deletes re-stamp
// deleted_at and re-arm the window.
func (r *PolicyRegistry) DeleteInstance(ctx context.Context, typeID int64, instanceID string) error {
	if _, err := r.GetInstance(ctx, typeID, instanceID); err != nil {
		return err
	}

	meta, err := r.readMetadata(ctx, typeID, instanceID)
	if err != nil {
		return err
	}

	deletedAt := r.now().Unix()
	meta.HasBeenDeleted = true
	meta.DeletedAt = &deletedAt

	metaBody, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, store.Namespace, store.MetadataKey(typeID, instanceID), metaBody); err != nil {
		return err
	}

	statuses, err := r.store.FindAndGet(ctx, store.Namespace, store.HandlerPrefix(typeID, instanceID))
	if err != nil {
		return err
	}

	ttl := r.noRespTTL
	if len(statuses) > 0 {
		ttl = max(r.respTTL, r.noRespTTL)
	}
	r.finalizer.Schedule(typeID, instanceID, r.now().Add(ttl))

	r.logger.Info("Policy instance tombstoned",
		slog.Int64("policy_type_id", typeID),
		slog.String("policy_instance_id", instanceID),
		slog.Duration("grace_window", ttl))
	return nil
}

// SetStatus records one handler's acknowledgement for an instance
func (r *PolicyRegistry) SetStatus(ctx context.Context, typeID int64, instanceID, handlerID, status string) error {
	if _, err := r.GetType(ctx, typeID); err != nil {
		return err
	}
	if _, err := r.GetInstance(ctx, typeID, instanceID); err != nil {
		return err
	}
	return r.store.Set(ctx, store.Namespace, store.HandlerKey(typeID, instanceID, handlerID), []byte(status))
}

// GetInstanceStatus returns the instance metadata augmented with the
// aggregate status: IN EFFECT when at least one handler reports OK.
func (r *PolicyRegistry) GetInstanceStatus(ctx context.Context, typeID int64, instanceID string) (*models.InstanceStatus, error) {
	if _, err := r.GetInstance(ctx, typeID, instanceID); err != nil {
		return nil, err
	}

	meta, err := r.readMetadata(ctx, typeID, instanceID)
	if err != nil {
		return nil, err
	}

	statuses, err := r.store.FindAndGet(ctx, store.Namespace, store.HandlerPrefix(typeID, instanceID))
	if err != nil {
		return nil, err
	}

	aggregate := models.StatusNotInEffect
	allDeleted := len(statuses) > 0
	for _, raw := range statuses {
		s := string(raw)
		if s == models.HandlerStatusOK {
			aggregate = models.StatusInEffect
		}
		if s != models.HandlerStatusDeleted {
			allDeleted = false
		}
	}
	if allDeleted {
		// The documented aggregation rule says an instance whose handlers all
		// report DELETED should read as gone, but the mediator has always
		// served it until the finalizer purges. Surfaced here for operators.
		r.logger.Debug("All handler statuses are DELETED; serving instance until purge",
			slog.Int64("policy_type_id", typeID),
			slog.String("policy_instance_id", instanceID))
	}

	return &models.InstanceStatus{
		InstanceMetadata: *meta,
		InstanceStatus:   aggregate,
	}, nil
}

func (r *PolicyRegistry) readMetadata(ctx context.Context, typeID int64, instanceID string) (*models.InstanceMetadata, error) {
	raw, err := r.store.Get(ctx, store.Namespace, store.MetadataKey(typeID, instanceID))
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %d/%s", ErrInstanceNotFound, typeID, instanceID)
		}
		return nil, err
	}
	var meta models.InstanceMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("metadata for %d/%s is corrupt: %w", typeID, instanceID, err)
	}
	return &meta, nil
}

func (r *PolicyRegistry) purgeHandlerStatuses(ctx context.Context, typeID int64, instanceID string) error {
	statuses, err := r.store.FindAndGet(ctx, store.Namespace, store.HandlerPrefix(typeID, instanceID))
	if err != nil {
		return err
	}
	for key := range statuses {
		if err := r.store.Delete(ctx, store.Namespace, key); err != nil {
			return err
		}
	}
	return nil
}

// purgeInstance is the finalizer callback: it erases handler statuses, the
// instance and its metadata, in that order, once the grace window expires.
func (r *PolicyRegistry) purgeInstance(ctx context.Context, typeID int64, instanceID string) {
	if err := r.purgeHandlerStatuses(ctx, typeID, instanceID); err != nil {
		r.logger.Warn("Failed to purge handler statuses; a later delete will retry",
			slog.Int64("policy_type_id", typeID),
			slog.String("policy_instance_id", instanceID),
			slog.Any("error", err))
		return
	}
	if err := r.store.Delete(ctx, store.Namespace, store.InstanceKey(typeID, instanceID)); err != nil {
		r.logger.Warn("Failed to purge policy instance; a later delete will retry",
			slog.Int64("policy_type_id", typeID),
			slog.String("policy_instance_id", instanceID),
			slog.Any("error", err))
		return
	}
	if err := r.store.Delete(ctx, store.Namespace, store.MetadataKey(typeID, instanceID)); err != nil {
		r.logger.Warn("Failed to purge instance metadata",
			slog.Int64("policy_type_id", typeID),
			slog.String("policy_instance_id", instanceID),
			slog.Any("error", err))
		return
	}
	r.logger.Info("Policy instance purged",
		slog.Int64("policy_type_id", typeID),
		slog.String("policy_instance_id", instanceID))
}

// validateAgainstSchema checks an instance body against the type's
// create_schema. Only instances are schema-validated; type bodies are not.
func validateAgainstSchema(schema map[string]interface{}, body []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSchemaViolation, err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return fmt.Errorf("%w: %v", ErrSchemaViolation, details)
	}
	return nil
}
