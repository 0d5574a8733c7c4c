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

package shell

import (
	"context"
	"fmt"

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/query"
	"github.com/spothero/trifecta/runtime"
	"github.com/spothero/trifecta/scan"
	"github.com/spothero/trifecta/shell/parser"
	"github.com/spothero/trifecta/shell/registry"
	"golang.org/x/xerrors"
)

// KafkaModule contributes topic/broker inspection commands and implements
// TopicResolver so select statements can run against the cluster the ZK
// view is pointed at.
type KafkaModule struct {
	rt *runtime.Context
}

// NewKafkaModule builds the "kafka" module.
func NewKafkaModule(rt *runtime.Context) *KafkaModule {
	return &KafkaModule{rt: rt}
}

// Module returns the registry.Module this resolver contributes.
func (k *KafkaModule) Module() *registry.Module {
	return &registry.Module{
		Name:  "kafka",
		Label: "kafka",
		Commands: []registry.Command{
			{Name: "ktopics", Schema: parser.ParamSchema{}, Help: "List known topics", Handler: k.topics},
			{Name: "kbrokers", Schema: parser.ParamSchema{}, Help: "List live brokers", Handler: k.brokers},
			{Name: "kpartitions", Schema: parser.ParamSchema{Required: []string{"topic"}}, Help: "List a topic's partitions", Handler: k.partitions},
		},
	}
}

func (k *KafkaModule) topics(ctx context.Context, args *parser.Args) (interface{}, error) {
	names, err := k.rt.ZK.GetBrokerTopicNames()
	if err != nil {
		return nil, err
	}
	return Record{Fields: map[string]interface{}{"topics": names}}, nil
}

func (k *KafkaModule) brokers(ctx context.Context, args *parser.Args) (interface{}, error) {
	brokers, err := k.rt.ZK.GetBrokerList()
	if err != nil {
		return nil, err
	}
	return Record{Fields: map[string]interface{}{"brokers": brokers}}, nil
}

func (k *KafkaModule) partitions(ctx context.Context, args *parser.Args) (interface{}, error) {
	partitions, err := k.rt.ZK.GetBrokerTopicPartitions(args.At(0))
	if err != nil {
		return nil, err
	}
	return Record{Fields: map[string]interface{}{"topic": args.At(0), "partitions": partitions}}, nil
}

// seedBrokerAddrs returns "host:port" for every live broker, used to seed
// leader discovery for a new PartitionConsumer.
func (k *KafkaModule) seedBrokerAddrs() ([]string, error) {
	brokers, err := k.rt.ZK.GetBrokerList()
	if err != nil {
		return nil, err
	}
	if len(brokers) == 0 {
		return nil, xerrors.Errorf("no live brokers published under /brokers/ids")
	}
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		addrs = append(addrs, fmt.Sprintf("%s:%d", b.Host, b.Port))
	}
	return addrs, nil
}

// ResolveTopic implements shell.TopicResolver.
func (k *KafkaModule) ResolveTopic(ctx context.Context, topic string) ([]int32, scan.FetcherFactory, query.Decoder, error) {
	seeds, err := k.seedBrokerAddrs()
	if err != nil {
		return nil, nil, nil, err
	}
	partitionIDs, err := k.rt.ZK.GetBrokerTopicPartitions(topic)
	if err != nil {
		return nil, nil, nil, err
	}
	partitions := make([]int32, len(partitionIDs))
	for i, p := range partitionIDs {
		partitions[i] = int32(p)
	}

	factory := func(ctx context.Context, partition int32) (scan.Fetcher, error) {
		tp := kclient.TopicPartition{Topic: topic, Partition: partition}
		return kclient.NewPartitionConsumer(ctx, seeds, tp, k.rt.Config.Kafka, k.rt.CorrelationCounter())
	}
	return partitions, factory, query.DecodeJSON, nil
}
