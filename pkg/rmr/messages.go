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
	"encoding/json"
	"fmt"

	"github.com/ric-platform/a1-mediator/pkg/models"
)

// PolicyRequest is the outbound envelope carrying a policy operation to the
// handlers. For DELETE the payload is the empty string.
type PolicyRequest struct {
	Operation        models.Operation `json:"operation"`
	PolicyTypeID     int64            `json:"policy_type_id"`
	PolicyInstanceID string           `json:"policy_instance_id"`
	Payload          json.RawMessage  `json:"payload"`
}

// EncodePolicyRequest serialises a policy request envelope
func EncodePolicyRequest(op models.Operation, typeID int64, instanceID string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		payload = []byte(`""`)
	}
	return json.Marshal(PolicyRequest{
		Operation:        op,
		PolicyTypeID:     typeID,
		PolicyInstanceID: instanceID,
		Payload:          payload,
	})
}

// EIDelivery is the outbound envelope carrying an enrichment result to the
// job's subscriber
type EIDelivery struct {
	EIJobID string          `json:"ei_job_id"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEIDelivery serialises an EI delivery envelope
func EncodeEIDelivery(jobID string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		payload = []byte(`""`)
	}
	return json.Marshal(EIDelivery{EIJobID: jobID, Payload: payload})
}

// PolicyResponse is a handler's acknowledgement of a policy request
type PolicyResponse struct {
	PolicyTypeID     int64  `json:"policy_type_id"`
	PolicyInstanceID string `json:"policy_instance_id"`
	HandlerID        string `json:"handler_id"`
	Status           string `json:"status"`
}

// DecodePolicyResponse parses an inbound acknowledgement, requiring every field
func DecodePolicyResponse(payload []byte) (*PolicyResponse, error) {
	var resp PolicyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("malformed policy response: %w", err)
	}
	if resp.PolicyTypeID == 0 || resp.PolicyInstanceID == "" || resp.HandlerID == "" || resp.Status == "" {
		return nil, fmt.Errorf("policy response missing required fields: %s", string(payload))
	}
	return &resp, nil
}

// PolicyQuery asks for a replay of every instance of one type
type PolicyQuery struct {
	PolicyTypeID int64 `json:"policy_type_id"`
}

// DecodePolicyQuery parses an inbound replay request
func DecodePolicyQuery(payload []byte) (*PolicyQuery, error) {
	var q PolicyQuery
	if err := json.Unmarshal(payload, &q); err != nil {
		return nil, fmt.Errorf("malformed policy query: %w", err)
	}
	if q.PolicyTypeID == 0 {
		return nil, fmt.Errorf("policy query missing policy_type_id: %s", string(payload))
	}
	return &q, nil
}
