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
	"strconv"
)

// Wire-level message types
const (
	RICPolicyRequest     = 20010 // outbound
	RICPolicyResponse    = 20011 // inbound
	RICPolicyQuery       = 20012 // inbound
	RICEIQueryAll        = 20013 // inbound
	RICEIQueryAllResp    = 20014 // outbound (rts)
	RICEICreateJob       = 20015 // inbound
	RICEICreateJobResp   = 20016 // outbound (rts)
	RICEIDelivery        = 20017 // outbound
)

// SubIDUnset is the subscription id used when a message carries none
const SubIDUnset = -1

// ErrRetry is reported by a bus while a send may succeed if attempted again
var ErrRetry = errors.New("bus requests retry")

// Message is one received bus message. The embedded handle must be released
// with Bus.Free after dispatch, on every code path.
type Message struct {
	MType   int
	SubID   int
	Payload []byte

	handle interface{}
}

// Bus abstracts the message transport. Implementations must be safe for use
// by the loop goroutine and the per-tick drain workers concurrently.
type Bus interface {
	// Send emits a payload with the given message type and subscription id
	Send(payload []byte, mtype, subID int) error

	// RTS returns a payload to the sender of an incoming message
	RTS(incoming *Message, payload []byte, mtype int) error

	// RecvBatch returns the currently pending messages whose type is in filter
	RecvBatch(filter []int) []*Message

	// Ready reports whether the transport is initialised
	Ready() bool

	// Free releases a received message's buffer
	Free(msg *Message)

	// Close tears the transport down
	Close()
}

// EIHandler is the enrichment-information side of the dispatch table. The
// bridge implementation forwards to the EI coordinator and answers over rts.
type EIHandler interface {
	HandleQueryAll(ctx context.Context, bus Bus, msg *Message)
	HandleCreateJob(ctx context.Context, bus Bus, msg *Message)
}

// MessageTypeName returns the symbolic name of a wire message type
func MessageTypeName(mtype int) string {
	switch mtype {
	case RICPolicyRequest:
		return "POLICY_REQ"
	case RICPolicyResponse:
		return "POLICY_RESP"
	case RICPolicyQuery:
		return "POLICY_QUERY"
	case RICEIQueryAll:
		return "EI_QUERY_ALL"
	case RICEIQueryAllResp:
		return "EI_QUERY_ALL_RESP"
	case RICEICreateJob:
		return "EI_CREATE_JOB"
	case RICEICreateJobResp:
		return "EI_CREATE_JOB_RESP"
	case RICEIDelivery:
		return "EI_DELIVERY"
	default:
		return strconv.Itoa(mtype)
	}
}
