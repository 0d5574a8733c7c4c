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
	"fmt"

	"github.com/Shopify/sarama"
	"golang.org/x/xerrors"
)

// ErrLeaderUnavailable is returned when no seed broker could name a leader
// for the requested partition.
var ErrLeaderUnavailable = xerrors.New("kafka: leader unavailable")

// ErrTransport covers socket and timeout failures talking to a broker.
var ErrTransport = xerrors.New("kafka: transport error")

// CodeError wraps a Kafka wire-level error code returned in a response body.
type CodeError struct {
	Code sarama.KError
}

// Error renders the wire code using the fixed error-code table, falling back
// to a generic "unrecognized" message for codes the table does not cover.
func (e *CodeError) Error() string {
	if msg, ok := errorCodeTable[e.Code]; ok {
		return fmt.Sprintf("kafka error %d: %s", int16(e.Code), msg)
	}
	return fmt.Sprintf("kafka error %d: Unrecognized Error Code", int16(e.Code))
}

// errorCodeTable maps the documented Kafka wire codes relevant to this client
// to human-readable descriptions. Keyed by the raw protocol code rather than
// sarama's named constants throughout, since not every code this table
// documents has a stable symbolic name across sarama versions.
var errorCodeTable = map[sarama.KError]string{
	sarama.KError(0):   "NoError",
	sarama.KError(-1):  "Unknown",
	sarama.KError(1):   "OffsetOutOfRange",
	sarama.KError(2):   "InvalidMessage",
	sarama.KError(3):   "UnknownTopicOrPartition",
	sarama.KError(4):   "InvalidFetchSize",
	sarama.KError(5):   "LeaderNotAvailable",
	sarama.KError(6):   "NotLeaderForPartition",
	sarama.KError(7):   "RequestTimedOut",
	sarama.KError(8):   "BrokerNotAvailable",
	sarama.KError(9):   "ReplicaNotAvailable",
	sarama.KError(10):  "MessageSizeTooLarge",
	sarama.KError(11):  "StaleControllerEpoch",
	sarama.KError(12):  "OffsetMetadataTooLarge",
	sarama.KError(13):  "StaleLeaderEpoch",
}

// codeError builds a *CodeError for a wire code if it denotes failure, or nil
// when the code is sarama.ErrNoError.
func codeError(code sarama.KError) error {
	if code == sarama.ErrNoError {
		return nil
	}
	return &CodeError{Code: code}
}
