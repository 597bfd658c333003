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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Namespace, "k1", []byte(`{"a":1}`)))

	val, err := s.Get(ctx, Namespace, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), val)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), Namespace, "absent")
	assert.True(t, IsNotFoundError(err))
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Namespace, "k1", []byte("v")))
	require.NoError(t, s.Delete(ctx, Namespace, "k1"))

	_, err := s.Get(ctx, Namespace, "k1")
	assert.True(t, IsNotFoundError(err))

	// Deleting an absent key is not an error
	assert.NoError(t, s.Delete(ctx, Namespace, "k1"))
}

func TestMemoryStore_FindAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, Namespace, "a1.policy_instance.1.x", []byte("1")))
	require.NoError(t, s.Set(ctx, Namespace, "a1.policy_instance.1.y", []byte("2")))
	require.NoError(t, s.Set(ctx, Namespace, "a1.policy_instance.10.z", []byte("3")))

	got, err := s.FindAndGet(ctx, Namespace, "a1.policy_instance.1.")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["a1.policy_instance.1.x"])
	assert.Equal(t, []byte("2"), got["a1.policy_instance.1.y"])
}

func TestMemoryStore_NamespaceIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ns1", "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "ns2", "k", []byte("v2")))

	v1, err := s.Get(ctx, "ns1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v1)

	v2, err := s.Get(ctx, "ns2", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v2)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	src := []byte("abc")
	require.NoError(t, s.Set(ctx, Namespace, "k", src))
	src[0] = 'x'

	val, err := s.Get(ctx, Namespace, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), val)

	val[0] = 'y'
	again, err := s.Get(ctx, Namespace, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStore_Healthy(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.Healthy(context.Background()))
	assert.NoError(t, s.Close())
}
