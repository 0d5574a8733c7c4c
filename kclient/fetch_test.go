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
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, broker *sarama.MockBroker) *PartitionConsumer {
	t.Helper()
	consumer, err := NewPartitionConsumer(
		context.Background(),
		[]string{broker.Addr()},
		TopicPartition{Topic: testTopic, Partition: 0},
		Config{ClientID: "test", KafkaVersion: "2.1.0"},
		&CorrelationCounter{},
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)
	return consumer
}

func TestFetchOffsetsBefore(t *testing.T) {
	broker := newLeaderMockBroker(t)
	defer broker.Close()
	broker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": mocks.NewMockMetadataResponse(t).
			SetBroker(broker.Addr(), broker.BrokerID()).
			SetLeader(testTopic, 0, broker.BrokerID()),
		"OffsetRequest": mocks.NewMockOffsetResponse(t).
			SetOffset(testTopic, 0, EarliestTime, 0).
			SetOffset(testTopic, 0, LatestTime, 10),
	})

	consumer := newTestConsumer(t, broker)

	first, err := consumer.GetFirstOffset()
	require.NoError(t, err)
	require.EqualValues(t, 0, first)

	last, err := consumer.GetLastOffset()
	require.NoError(t, err)
	require.EqualValues(t, 10, last)
}

func TestCommitAndFetchOffset(t *testing.T) {
	broker := newLeaderMockBroker(t)
	defer broker.Close()
	broker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": mocks.NewMockMetadataResponse(t).
			SetBroker(broker.Addr(), broker.BrokerID()).
			SetLeader(testTopic, 0, broker.BrokerID()),
		"OffsetCommitRequest": mocks.NewMockOffsetCommitResponse(t).
			SetError(testTopic, 0, sarama.ErrNoError),
		"OffsetFetchRequest": mocks.NewMockOffsetFetchResponse(t).
			SetOffset("grp", testTopic, 0, 7, "", sarama.ErrNoError),
	})

	consumer := newTestConsumer(t, broker)

	require.NoError(t, consumer.CommitOffsets("grp", 7, ""))

	offset, err := consumer.FetchOffset("grp")
	require.NoError(t, err)
	require.EqualValues(t, 7, offset)
}
