// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kclient

import (
	"context"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "events"

// newLeaderMockBroker starts a mock broker that answers metadata requests by
// naming itself as the leader of testTopic's partition 0.
func newLeaderMockBroker(t *testing.T) *sarama.MockBroker {
	broker := sarama.NewMockBroker(t, 3)
	broker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": mocks.NewMockMetadataResponse(t).
			SetBroker(broker.Addr(), broker.BrokerID()).
			SetLeader(testTopic, 0, broker.BrokerID()),
	})
	return broker
}

func TestLeaderFailover(t *testing.T) {
	leader := newLeaderMockBroker(t)
	defer leader.Close()

	pointer := sarama.NewMockBroker(t, 2)
	pointer.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": mocks.NewMockMetadataResponse(t).
			SetBroker(leader.Addr(), leader.BrokerID()).
			SetLeader(testTopic, 0, leader.BrokerID()),
	})
	defer pointer.Close()

	// B1 refuses connections: a closed local port.
	unreachable := "127.0.0.1:1"

	saramaCfg := sarama.NewConfig()
	discovered, replicas, err := discoverLeader(
		context.Background(),
		[]string{unreachable, pointer.Addr(), leader.Addr()},
		TopicPartition{Topic: testTopic, Partition: 0},
		saramaCfg,
	)
	require.NoError(t, err)
	assert.Equal(t, leader.BrokerID(), discovered.ID)
	assert.Empty(t, replicas)
}

func TestLeaderUnavailable(t *testing.T) {
	saramaCfg := sarama.NewConfig()
	_, _, err := discoverLeader(
		context.Background(),
		[]string{"127.0.0.1:1"},
		TopicPartition{Topic: testTopic, Partition: 0},
		saramaCfg,
	)
	assert.ErrorIs(t, err, ErrLeaderUnavailable)
}

func TestCorrelationCounterUnique(t *testing.T) {
	c := &CorrelationCounter{}
	seen := make(map[int32]bool)
	for i := 0; i < 100; i++ {
		id := c.Next()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
