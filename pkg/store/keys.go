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

package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace is the shared logical namespace for all mediator state
const Namespace = "A1m_ns"

const (
	typePrefix     = "a1.policy_type."
	instancePrefix = "a1.policy_instance."
	metadataPrefix = "a1.policy_inst_metadata."
	handlerPrefix  = "a1.policy_handler."
)

// TypeKey builds the key for a policy type document
func TypeKey(typeID int64) string {
	return typePrefix + strconv.FormatInt(typeID, 10)
}

// InstanceKey builds the key for a policy instance document
func InstanceKey(typeID int64, instanceID string) string {
	return fmt.Sprintf("%s%d.%s", instancePrefix, typeID, instanceID)
}

// MetadataKey builds the key for instance lifecycle metadata
func MetadataKey(typeID int64, instanceID string) string {
	return fmt.Sprintf("%s%d.%s", metadataPrefix, typeID, instanceID)
}

// HandlerKey builds the key for a per-handler status entry
func HandlerKey(typeID int64, instanceID, handlerID string) string {
	return fmt.Sprintf("%s%d.%s.%s", handlerPrefix, typeID, instanceID, handlerID)
}

// TypePrefix matches every policy type key
func TypePrefix() string {
	return typePrefix
}

// InstancePrefix matches every instance of one type
func InstancePrefix(typeID int64) string {
	return fmt.Sprintf("%s%d.", instancePrefix, typeID)
}

// HandlerPrefix matches every handler status of one instance
func HandlerPrefix(typeID int64, instanceID string) string {
	return fmt.Sprintf("%s%d.%s.", handlerPrefix, typeID, instanceID)
}

// TypeIDFromKey extracts the type identifier from a policy type key
func TypeIDFromKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, typePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// InstanceIDFromKey extracts the instance identifier from an instance key of
// the given type. Instance identifiers are opaque and may contain dots, so
// extraction trims the known prefix rather than splitting.
func InstanceIDFromKey(key string, typeID int64) (string, bool) {
	return strings.CutPrefix(key, InstancePrefix(typeID))
}

// HandlerIDFromKey extracts the handler identifier from a handler status key
// of the given instance
func HandlerIDFromKey(key string, typeID int64, instanceID string) (string, bool) {
	return strings.CutPrefix(key, HandlerPrefix(typeID, instanceID))
}
