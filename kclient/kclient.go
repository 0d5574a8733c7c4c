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

// Package kclient implements the low-level, per-(topic,partition) Kafka
// protocol client: leader discovery across a seed-broker list with failover,
// bounded fetches, offset queries, and consumer-group offset commit/fetch.
// Unlike sarama's high-level Consumer/ConsumerGroup, it speaks the wire
// protocol directly through sarama.Broker so the shell can inspect exactly
// what a partition's leader returns.
package kclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"github.com/spf13/pflag"
	"github.com/spothero/trifecta/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"
)

// pseudo-times used by offset queries, mirroring sarama's OffsetOldest/OffsetNewest.
const (
	EarliestTime = int64(-2)
	LatestTime   = int64(-1)
)

// defaultFetchSize is the maximum number of bytes requested per fetch, 1 MiB.
const defaultFetchSize = 1 << 20

// socketTimeout matches the historical default on the low-level Kafka
// clients this package's ancestry is drawn from.
const socketTimeout = 63356 * time.Millisecond

// Broker identifies a Kafka broker endpoint.
type Broker struct {
	Host string
	Port int32
	ID   int32
}

// TopicPartition is the canonical scan unit: a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// Config holds connection settings shared by every PartitionConsumer created
// from it: TLS material, client id, and Kafka protocol version.
type Config struct {
	ClientID     string
	KafkaVersion string
	TLSCaCrtPath string
	TLSCrtPath   string
	TLSKeyPath   string
	Verbose      bool
	// Metrics, if set, receives sarama's internal go-metrics readings for
	// every broker connection opened from this Config.
	Metrics *Metrics
}

// RegisterFlags registers kclient connection flags with pflags.
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.ClientID, "kafka-client-id", "trifecta", "Kafka client id presented to brokers")
	flags.StringVar(&c.KafkaVersion, "kafka-version", "2.1.0", "Kafka broker protocol version")
	flags.StringVar(&c.TLSCaCrtPath, "kafka-server-ca-crt-path", "", "Kafka server TLS CA certificate path")
	flags.StringVar(&c.TLSCrtPath, "kafka-client-crt-path", "", "Kafka client TLS certificate path")
	flags.StringVar(&c.TLSKeyPath, "kafka-client-key-path", "", "Kafka client TLS key path")
	flags.BoolVar(&c.Verbose, "kafka-verbose", false, "Log verbose sarama wire-protocol traffic")
}

// saramaConfig builds the sarama.Config shared by every broker connection
// this package opens, applying TLS material and protocol version from c.
func (c Config) saramaConfig(ctx context.Context) (*sarama.Config, error) {
	if c.Verbose {
		saramaLogger, err := zap.NewStdLogAt(log.Get(ctx).Named("sarama"), zapcore.DebugLevel)
		if err != nil {
			return nil, xerrors.Errorf("failed to create sarama standard logger: %w", err)
		}
		sarama.Logger = saramaLogger
	}
	cfg := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion(c.KafkaVersion)
	if err != nil {
		return nil, xerrors.Errorf("invalid kafka version %q: %w", c.KafkaVersion, err)
	}
	cfg.Version = version
	cfg.ClientID = c.ClientID
	cfg.Net.DialTimeout = socketTimeout
	cfg.Net.ReadTimeout = socketTimeout
	cfg.Net.WriteTimeout = socketTimeout
	if c.Metrics != nil {
		cfg.MetricRegistry = c.Metrics.Registry
	}

	if c.TLSCrtPath != "" && c.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCrtPath, c.TLSKeyPath)
		if err != nil {
			return nil, xerrors.Errorf("failed to load kafka client TLS key pair: %w", err)
		}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{Certificates: []tls.Certificate{cert}}
		if c.TLSCaCrtPath != "" {
			caCert, err := ioutil.ReadFile(c.TLSCaCrtPath)
			if err != nil {
				return nil, xerrors.Errorf("failed to load kafka server CA certificate: %w", err)
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(caCert)
			cfg.Net.TLS.Config.RootCAs = pool
		}
	}
	return cfg, nil
}

// CorrelationCounter is a process-wide source of unique correlation ids for
// request/response matching. Its only contract is uniqueness within a
// client session; ownership lives on runtime.Context so tests can inject a
// fresh counter per case.
type CorrelationCounter struct {
	n uint32
}

// Next returns the next correlation id.
func (c *CorrelationCounter) Next() int32 {
	return int32(atomic.AddUint32(&c.n, 1))
}

// brokerConn is the subset of *sarama.Broker's method set this package
// depends on. Exists as an interface so leader discovery and fetch/offset
// operations can be exercised against a fake in tests instead of a live
// Kafka cluster. *sarama.Broker satisfies it.
type brokerConn interface {
	Open(conf *sarama.Config) error
	Connected() (bool, error)
	Close() error
	GetMetadata(request *sarama.MetadataRequest) (*sarama.MetadataResponse, error)
	Fetch(request *sarama.FetchRequest) (*sarama.FetchResponse, error)
	GetAvailableOffsets(request *sarama.OffsetRequest) (*sarama.OffsetResponse, error)
	FetchOffset(request *sarama.OffsetFetchRequest) (*sarama.OffsetFetchResponse, error)
	CommitOffset(request *sarama.OffsetCommitRequest) (*sarama.OffsetCommitResponse, error)
}

// dialBroker opens a connection to addr. Overridden in tests to avoid
// touching the network.
var dialBroker = func(addr string) brokerConn {
	return sarama.NewBroker(addr)
}

// PartitionConsumer is a low-level client bound to one TopicPartition. It
// owns a single persistent connection to the partition's current leader,
// discovered at construction time by iterating a seed-broker list. A
// PartitionConsumer is not shared across concurrent scan tasks: each
// partition scan constructs, uses, and closes its own.
type PartitionConsumer struct {
	cfg         Config
	tp          TopicPartition
	correlation *CorrelationCounter
	leader      Broker
	replicas    []int32
	broker      brokerConn
}

// NewPartitionConsumer discovers the leader for tp by querying each seed
// broker, in order, with a TopicMetadataRequest, and opens a persistent
// connection to it. The first seed broker that answers without a transport
// error wins; transport errors on earlier seeds are swallowed and the next
// seed is tried. Construction fails with ErrLeaderUnavailable if no seed
// responds, or the response names no leader for the partition.
func NewPartitionConsumer(
	ctx context.Context,
	seedBrokers []string,
	tp TopicPartition,
	cfg Config,
	correlation *CorrelationCounter,
) (*PartitionConsumer, error) {
	saramaCfg, err := cfg.saramaConfig(ctx)
	if err != nil {
		return nil, err
	}

	leader, replicas, err := discoverLeader(ctx, seedBrokers, tp, saramaCfg)
	if err != nil {
		return nil, err
	}

	leaderBroker := dialBroker(fmt.Sprintf("%s:%d", leader.Host, leader.Port))
	if err := leaderBroker.Open(saramaCfg); err != nil {
		return nil, xerrors.Errorf("%w: failed to connect to leader %s:%d: %s", ErrTransport, leader.Host, leader.Port, err)
	}
	return &PartitionConsumer{
		cfg:         cfg,
		tp:          tp,
		correlation: correlation,
		leader:      leader,
		replicas:    replicas,
		broker:      leaderBroker,
	}, nil
}

// discoverLeader iterates seedBrokers in order, issuing a TopicMetadataRequest
// to each until one answers without a transport error, and returns the leader
// that answer names for tp.
func discoverLeader(ctx context.Context, seedBrokers []string, tp TopicPartition, saramaCfg *sarama.Config) (Broker, []int32, error) {
	for _, addr := range seedBrokers {
		seed := dialBroker(addr)
		if err := seed.Open(saramaCfg); err != nil {
			log.Get(ctx).Debug("seed broker unreachable, trying next", zap.String("broker", addr), zap.Error(err))
			continue
		}
		meta, err := seed.GetMetadata(&sarama.MetadataRequest{Topics: []string{tp.Topic}})
		closeErr := seed.Close()
		if err != nil {
			log.Get(ctx).Debug("seed broker metadata request failed, trying next", zap.String("broker", addr), zap.Error(err))
			continue
		}
		if closeErr != nil {
			log.Get(ctx).Debug("error closing seed broker connection", zap.String("broker", addr), zap.Error(closeErr))
		}
		for _, topicMeta := range meta.Topics {
			if topicMeta.Name != tp.Topic {
				continue
			}
			for _, partMeta := range topicMeta.Partitions {
				if partMeta.ID != tp.Partition || partMeta.Leader < 0 {
					continue
				}
				for _, b := range meta.Brokers {
					if b.ID() == partMeta.Leader {
						leader := Broker{Host: hostOf(b.Addr()), Port: portOf(b.Addr()), ID: b.ID()}
						return leader, partMeta.Replicas, nil
					}
				}
			}
		}
		break
	}
	return Broker{}, nil, xerrors.Errorf("%w: topic=%s partition=%d", ErrLeaderUnavailable, tp.Topic, tp.Partition)
}

// Leader returns the broker this consumer is bound to.
func (p *PartitionConsumer) Leader() Broker { return p.leader }

// Replicas returns the replica set reported for the partition at construction.
func (p *PartitionConsumer) Replicas() []int32 { return p.replicas }

// Close closes the persistent connection to the partition leader. It is
// idempotent and swallows transport errors encountered while closing.
func (p *PartitionConsumer) Close() {
	if p.broker == nil {
		return
	}
	if connected, _ := p.broker.Connected(); connected {
		_ = p.broker.Close()
	}
}

func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

func portOf(addr string) int32 {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int32
			for _, r := range addr[i+1:] {
				if r < '0' || r > '9' {
					return 0
				}
				port = port*10 + int32(r-'0')
			}
			return port
		}
	}
	return 0
}
