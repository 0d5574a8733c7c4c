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
	"github.com/Shopify/sarama"
	"golang.org/x/xerrors"
)

// MessageData is one message read from a partition at a known offset,
// together with the high-water mark observed at fetch time.
type MessageData struct {
	Partition  int32
	Offset     int64
	NextOffset int64
	LastOffset int64
	Key        []byte
	Value      []byte
}

// Fetch requests messages starting at offset, up to fetchSize bytes, and
// returns them in server order. A nil key or value is reported as an empty
// byte slice. Fails with a *CodeError when the broker reports a wire-level
// error for the partition.
func (p *PartitionConsumer) Fetch(offset int64, fetchSize int32) ([]MessageData, error) {
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	req := &sarama.FetchRequest{MaxWaitTime: 500, MinBytes: 1, Version: p.fetchRequestVersion()}
	req.AddBlock(p.tp.Topic, p.tp.Partition, offset, fetchSize)

	resp, err := p.broker.Fetch(req)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrTransport, err)
	}
	block := resp.GetBlock(p.tp.Topic, p.tp.Partition)
	if block == nil {
		return nil, xerrors.Errorf("%w: no fetch response block for topic=%s partition=%d", ErrTransport, p.tp.Topic, p.tp.Partition)
	}
	if err := codeError(block.Err); err != nil {
		return nil, err
	}

	highWatermark := block.HighWaterMarkOffset
	var out []MessageData
	recordSets, err := block.RecordsSet()
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrTransport, err)
	}
	for _, records := range recordSets {
		switch {
		case records.MsgSet != nil:
			for _, msgBlock := range records.MsgSet.Messages {
				msg := msgBlock.Msg
				out = append(out, messageData(p.tp.Partition, msgBlock.Offset, highWatermark, msg.Key, msg.Value))
			}
		case records.RecordBatch != nil:
			base := records.RecordBatch.FirstOffset
			for _, rec := range records.RecordBatch.Records {
				out = append(out, messageData(p.tp.Partition, base+rec.OffsetDelta, highWatermark, rec.Key, rec.Value))
			}
		}
	}
	return out, nil
}

// fetchRequestVersion picks the highest FetchRequest wire version the
// configured broker version is known to support. Left at the zero value,
// the request would pin brokers >= 2.1 into down-converting every record
// batch it returns; naming the version lets the broker respond with the
// format it already stores.
func (p *PartitionConsumer) fetchRequestVersion() int16 {
	version, err := sarama.ParseKafkaVersion(p.cfg.KafkaVersion)
	if err != nil {
		return 0
	}
	switch {
	case version.IsAtLeast(sarama.V2_3_0_0):
		return 11
	case version.IsAtLeast(sarama.V2_1_0_0):
		return 10
	case version.IsAtLeast(sarama.V2_0_0_0):
		return 8
	case version.IsAtLeast(sarama.V1_1_0_0):
		return 7
	case version.IsAtLeast(sarama.V1_0_0_0):
		return 5
	case version.IsAtLeast(sarama.V0_11_0_0):
		return 4
	case version.IsAtLeast(sarama.V0_10_1_0):
		return 3
	case version.IsAtLeast(sarama.V0_10_0_0):
		return 2
	case version.IsAtLeast(sarama.V0_9_0_0):
		return 1
	default:
		return 0
	}
}

func messageData(partition int32, offset, highWatermark int64, key, value []byte) MessageData {
	if key == nil {
		key = []byte{}
	}
	if value == nil {
		value = []byte{}
	}
	return MessageData{
		Partition:  partition,
		Offset:     offset,
		NextOffset: offset + 1,
		LastOffset: highWatermark,
		Key:        key,
		Value:      value,
	}
}

// GetOffsetsBefore returns the sequence of offsets the leader reports for
// timeMillis (a wall-clock time or one of EarliestTime/LatestTime).
func (p *PartitionConsumer) GetOffsetsBefore(timeMillis int64) ([]int64, error) {
	req := &sarama.OffsetRequest{}
	req.AddBlock(p.tp.Topic, p.tp.Partition, timeMillis, 1)
	resp, err := p.broker.GetAvailableOffsets(req)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrTransport, err)
	}
	block := resp.GetBlock(p.tp.Topic, p.tp.Partition)
	if block == nil {
		return nil, xerrors.Errorf("%w: no offset response block for topic=%s partition=%d", ErrTransport, p.tp.Topic, p.tp.Partition)
	}
	if err := codeError(block.Err); err != nil {
		return nil, err
	}
	return block.Offsets, nil
}

// GetFirstOffset is a convenience over GetOffsetsBefore(EarliestTime).
func (p *PartitionConsumer) GetFirstOffset() (int64, error) {
	return p.singleOffset(EarliestTime)
}

// GetLastOffset is a convenience over GetOffsetsBefore(LatestTime).
func (p *PartitionConsumer) GetLastOffset() (int64, error) {
	return p.singleOffset(LatestTime)
}

func (p *PartitionConsumer) singleOffset(timeMillis int64) (int64, error) {
	offsets, err := p.GetOffsetsBefore(timeMillis)
	if err != nil {
		return 0, err
	}
	if len(offsets) == 0 {
		return 0, xerrors.Errorf("%w: broker returned no offsets", ErrTransport)
	}
	return offsets[0], nil
}

// FetchOffset returns the stored offset for this partition under groupID,
// or (-1, nil) if the group has no committed offset.
func (p *PartitionConsumer) FetchOffset(groupID string) (int64, error) {
	req := &sarama.OffsetFetchRequest{ConsumerGroup: groupID, Version: 1}
	req.AddPartition(p.tp.Topic, p.tp.Partition)
	resp, err := p.broker.FetchOffset(req)
	if err != nil {
		return -1, xerrors.Errorf("%w: %s", ErrTransport, err)
	}
	block := resp.GetBlock(p.tp.Topic, p.tp.Partition)
	if block == nil {
		return -1, nil
	}
	if err := codeError(block.Err); err != nil {
		return -1, err
	}
	return block.Offset, nil
}

// CommitOffsets submits an offset commit for this partition under groupID.
// Fails with a *CodeError if the broker reports a non-zero status.
func (p *PartitionConsumer) CommitOffsets(groupID string, offset int64, metadata string) error {
	req := &sarama.OffsetCommitRequest{ConsumerGroup: groupID, Version: 1}
	req.AddBlock(p.tp.Topic, p.tp.Partition, offset, 0, metadata)
	resp, err := p.broker.CommitOffset(req)
	if err != nil {
		return xerrors.Errorf("%w: %s", ErrTransport, err)
	}
	code, ok := resp.Errors[p.tp.Topic][p.tp.Partition]
	if !ok {
		return xerrors.Errorf("%w: no commit response for topic=%s partition=%d", ErrTransport, p.tp.Topic, p.tp.Partition)
	}
	return codeError(code)
}
