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

// Package zkview provides a typed, path-oriented view over a ZooKeeper
// ensemble: the broker/topic/consumer topology Kafka publishes there, and
// generic read/write/delete operations against arbitrary znodes.
package zkview

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samuel/go-zookeeper/zk"
	"github.com/spf13/pflag"
	"github.com/spothero/trifecta/log"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// Sentinel errors describing the C2 error taxonomy.
var (
	ErrNotFound       = xerrors.New("zk: path not found")
	ErrDeleteFailed   = xerrors.New("zk: delete failed")
	ErrConnectionLost = xerrors.New("zk: connection lost")
)

// Config defines connection settings for a ZooKeeper ensemble.
type Config struct {
	Servers        []string
	SessionTimeout time.Duration
}

// RegisterFlags registers ZooKeeper connection flags with pflags.
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringSliceVar(&c.Servers, "zk-servers", []string{"localhost:2181"}, "ZooKeeper ensemble addresses")
	flags.DurationVar(&c.SessionTimeout, "zk-session-timeout", 10*time.Second, "ZooKeeper session timeout")
}

// conn is the subset of *zk.Conn's method set that View depends on. Exists as
// an interface so tests can substitute an in-memory fake instead of dialing a
// live ensemble.
type conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Children(path string) ([]string, *zk.Stat, error)
	SessionID() int64
	Close()
}

// View is a live connection to a ZooKeeper ensemble plus the session-scoped
// current working directory used to resolve relative keys. Reconnect and
// Close are serialized by mu; other operations do not take mu, and the cwd
// is not synchronized.
type View struct {
	Config
	mu   sync.Mutex
	conn conn
	cwd  string
}

// Connect dials the configured ZooKeeper ensemble and returns a ready View
// rooted at "/".
func (c Config) Connect(ctx context.Context) (*View, error) {
	v := &View{Config: c, cwd: "/"}
	if err := v.dial(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *View) dial() error {
	c, _, err := zk.Connect(v.Servers, v.SessionTimeout)
	if err != nil {
		return xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	v.conn = c
	return nil
}

// Reconnect tears down and re-establishes the ZooKeeper session. It is
// serialized against Close and other Reconnect calls only; an operation
// running concurrently is not blocked and may use the closed connection.
func (v *View) Reconnect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn != nil {
		v.conn.Close()
	}
	log.Get(ctx).Info("reconnecting to zookeeper", zap.Strings("servers", v.Servers))
	return v.dial()
}

// Close releases the underlying ZooKeeper session.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn != nil {
		v.conn.Close()
	}
}

// SessionID returns the current ZooKeeper session identifier.
func (v *View) SessionID() int64 {
	return v.conn.SessionID()
}

// Cwd returns the session's current ZooKeeper working directory.
func (v *View) Cwd() string { return v.cwd }

// SetCwd updates the session's current ZooKeeper working directory to the
// resolved absolute path of key.
func (v *View) SetCwd(key string) {
	v.cwd = v.ResolvePath(key)
}

// ResolvePath resolves a possibly-relative key against the View's current
// working directory. A leading "/" is absolute; ".." drops the last path
// segment, never descending below "/"; anything else is appended under cwd.
func (v *View) ResolvePath(key string) string {
	return resolvePath(v.cwd, key)
}

func resolvePath(cwd, key string) string {
	if key == "" {
		return cwd
	}
	if strings.HasPrefix(key, "/") {
		return path.Clean(key)
	}
	segments := strings.Split(key, "/")
	cur := strings.Split(strings.Trim(cwd, "/"), "/")
	if len(cur) == 1 && cur[0] == "" {
		cur = cur[:0]
	}
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(cur) > 0 {
				cur = cur[:len(cur)-1]
			}
		default:
			cur = append(cur, seg)
		}
	}
	if len(cur) == 0 {
		return "/"
	}
	return "/" + strings.Join(cur, "/")
}

// Exists reports whether a znode exists at path.
func (v *View) Exists(p string) (bool, error) {
	ok, _, err := v.conn.Exists(p)
	if err != nil {
		return false, xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return ok, nil
}

// Stat reports whether a znode exists at path along with its stat fields
// (Czxid, Mzxid, Version, NumChildren, …) when it does.
func (v *View) Stat(p string) (bool, *zk.Stat, error) {
	ok, stat, err := v.conn.Exists(p)
	if err != nil {
		return false, nil, xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return ok, stat, nil
}

// Read returns the raw bytes stored at path.
func (v *View) Read(p string) ([]byte, error) {
	data, _, err := v.conn.Get(p)
	if err != nil {
		if xerrors.Is(err, zk.ErrNoNode) {
			return nil, xerrors.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return data, nil
}

// Create writes a new persistent znode at path with the given data. Parents
// are not created; use EnsureParents first if they may not exist.
func (v *View) Create(p string, data []byte) error {
	_, err := v.conn.Create(p, data, 0, zk.WorldACL(zk.PermAll))
	if err != nil {
		return xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return nil
}

// EnsureParents creates every ancestor of path that does not yet exist, as
// empty persistent znodes.
func (v *View) EnsureParents(p string) error {
	parent := path.Dir(p)
	if parent == "/" || parent == "." {
		return nil
	}
	return v.EnsurePath(parent)
}

// EnsurePath creates path and every ancestor that does not yet exist, as
// empty persistent znodes.
func (v *View) EnsurePath(p string) error {
	if p == "/" || p == "" {
		return nil
	}
	if err := v.EnsureParents(p); err != nil {
		return err
	}
	exists, err := v.Exists(p)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := v.Create(p, []byte{}); err != nil && !xerrors.Is(err, zk.ErrNodeExists) {
		return err
	}
	return nil
}

// Delete removes the single znode at path.
func (v *View) Delete(p string) error {
	if err := v.conn.Delete(p, -1); err != nil {
		if xerrors.Is(err, zk.ErrNoNode) {
			return xerrors.Errorf("%w: %s", ErrNotFound, p)
		}
		return xerrors.Errorf("%w: %s", ErrDeleteFailed, p)
	}
	return nil
}

// DeleteRecursively removes path and, if it has children, all descendants,
// in post-order. Missing children encountered mid-traversal are skipped; any
// other error fails with ErrDeleteFailed naming the offending path.
func (v *View) DeleteRecursively(p string) error {
	children, err := v.GetChildren(p)
	if err != nil && !xerrors.Is(err, ErrNotFound) {
		return xerrors.Errorf("%w: listing children of %s: %s", ErrDeleteFailed, p, err)
	}
	for _, child := range children {
		childPath := path.Join(p, child)
		if err := v.DeleteRecursively(childPath); err != nil {
			if xerrors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
	}
	if err := v.Delete(p); err != nil {
		if xerrors.Is(err, ErrNotFound) {
			return nil
		}
		return xerrors.Errorf("%w: %s: %s", ErrDeleteFailed, p, err)
	}
	return nil
}

// GetChildren lists the direct children of path, without setting a watch.
func (v *View) GetChildren(p string) ([]string, error) {
	children, _, err := v.conn.Children(p)
	if err != nil {
		if xerrors.Is(err, zk.ErrNoNode) {
			return nil, xerrors.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, xerrors.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return children, nil
}

// Broker describes a Kafka broker as published under /brokers/ids.
type Broker struct {
	ID   int
	Host string
	Port int
}

type brokerNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GetBrokerList enumerates the live broker set from /brokers/ids/*.
func (v *View) GetBrokerList() ([]Broker, error) {
	ids, err := v.GetChildren("/brokers/ids")
	if err != nil {
		return nil, err
	}
	brokers := make([]Broker, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		data, err := v.Read("/brokers/ids/" + idStr)
		if err != nil {
			return nil, err
		}
		var node brokerNode
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, xerrors.Errorf("malformed broker node %s: %w", idStr, err)
		}
		brokers = append(brokers, Broker{ID: id, Host: node.Host, Port: node.Port})
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].ID < brokers[j].ID })
	return brokers, nil
}

// consumerOffsetsTopic is excluded from GetBrokerTopicNames; it is Kafka's
// own internal offset-storage topic, not operator-visible data.
const consumerOffsetsTopic = "__consumer_offsets"

// GetBrokerTopicNames lists all topic names known to the cluster, excluding
// the internal consumer-offsets topic.
func (v *View) GetBrokerTopicNames() ([]string, error) {
	topics, err := v.GetChildren("/brokers/topics")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == consumerOffsetsTopic {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// GetBrokerTopicPartitions returns the sorted partition ids of topic.
func (v *View) GetBrokerTopicPartitions(topic string) ([]int, error) {
	children, err := v.GetChildren(fmt.Sprintf("/brokers/topics/%s/partitions", topic))
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(children))
	for _, c := range children {
		id, err := strconv.Atoi(c)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// GetConsumerOwners returns, best-effort, the owning consumer id for every
// (topic,partition) currently claimed by group. Missing data yields an empty map.
func (v *View) GetConsumerOwners(group string) (map[string]string, error) {
	owners := make(map[string]string)
	topics, err := v.GetChildren(fmt.Sprintf("/consumers/%s/owners", group))
	if err != nil {
		if xerrors.Is(err, ErrNotFound) {
			return owners, nil
		}
		return nil, err
	}
	for _, topic := range topics {
		partitions, err := v.GetChildren(fmt.Sprintf("/consumers/%s/owners/%s", group, topic))
		if err != nil {
			if xerrors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, partition := range partitions {
			data, err := v.Read(fmt.Sprintf("/consumers/%s/owners/%s/%s", group, topic, partition))
			if err != nil {
				continue
			}
			owners[fmt.Sprintf("%s-%s", topic, partition)] = string(data)
		}
	}
	return owners, nil
}

// GetConsumerThreads returns, best-effort, the thread/consumer ids registered
// under a group's /consumers/<group>/ids path. Missing data yields an empty slice.
func (v *View) GetConsumerThreads(group string) ([]string, error) {
	ids, err := v.GetChildren(fmt.Sprintf("/consumers/%s/ids", group))
	if err != nil {
		if xerrors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	return ids, nil
}

// ConsumerOffset describes a committed offset stored under the legacy ZK
// consumer-offsets layout.
type ConsumerOffset struct {
	GroupID   string
	Topic     string
	Partition int
	Offset    int64
}

// GetConsumerDetails enumerates every ZooKeeper-style committed offset for
// group across all topics and partitions it has touched.
func (v *View) GetConsumerDetails(group string) ([]ConsumerOffset, error) {
	var out []ConsumerOffset
	topics, err := v.GetChildren(fmt.Sprintf("/consumers/%s/offsets", group))
	if err != nil {
		if xerrors.Is(err, ErrNotFound) {
			return out, nil
		}
		return nil, err
	}
	for _, topic := range topics {
		partitions, err := v.GetChildren(fmt.Sprintf("/consumers/%s/offsets/%s", group, topic))
		if err != nil {
			continue
		}
		for _, partitionStr := range partitions {
			partition, err := strconv.Atoi(partitionStr)
			if err != nil {
				continue
			}
			data, err := v.Read(fmt.Sprintf("/consumers/%s/offsets/%s/%s", group, topic, partitionStr))
			if err != nil {
				continue
			}
			offset, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				continue
			}
			out = append(out, ConsumerOffset{GroupID: group, Topic: topic, Partition: partition, Offset: offset})
		}
	}
	return out, nil
}

// StormPartitionInfo describes a single entry of the Storm Partition-Manager
// ZooKeeper layout, which stores committed offsets as JSON under a
// configured root rather than the plain Kafka consumer layout.
type StormPartitionInfo struct {
	Topology  string
	Topic     string
	Partition int
	Offset    int64
}

type stormPartitionNode struct {
	Topology string `json:"topology"`
	Topic    string `json:"topic"`
	Offset   int64  `json:"offset"`
}

// GetConsumersForStorm enumerates committed offsets stored under a Storm
// Partition-Manager root, e.g. "/stormconsumers/<topology>/<partition>".
func (v *View) GetConsumersForStorm(root string) ([]StormPartitionInfo, error) {
	topologies, err := v.GetChildren(root)
	if err != nil {
		if xerrors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []StormPartitionInfo
	for _, topology := range topologies {
		partitionPath := path.Join(root, topology)
		partitions, err := v.GetChildren(partitionPath)
		if err != nil {
			continue
		}
		for _, partitionStr := range partitions {
			partition, err := strconv.Atoi(partitionStr)
			if err != nil {
				continue
			}
			data, err := v.Read(path.Join(partitionPath, partitionStr))
			if err != nil {
				continue
			}
			var node stormPartitionNode
			if err := json.Unmarshal(data, &node); err != nil {
				continue
			}
			out = append(out, StormPartitionInfo{
				Topology:  node.Topology,
				Topic:     node.Topic,
				Partition: partition,
				Offset:    node.Offset,
			})
		}
	}
	return out, nil
}
