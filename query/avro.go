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

package query

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/linkedin/goavro/v2"
	"github.com/spf13/pflag"
	"github.com/spothero/trifecta/log"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// Decoder turns a raw Kafka message value into a field map a comparison or
// projection can index by name. JSON-valued topics decode directly; Avro
// topics go through a SchemaRegistryClient first.
type Decoder func(value []byte) (map[string]interface{}, error)

// DecodeJSON is the Decoder for topics whose values are plain JSON objects.
func DecodeJSON(value []byte) (map[string]interface{}, error) {
	var record map[string]interface{}
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, xerrors.Errorf("invalid JSON message: %w", err)
	}
	return record, nil
}

// SchemaRegistryConfig configures a SchemaRegistryClient.
type SchemaRegistryConfig struct {
	URL string
}

// RegisterFlags registers schema registry flags with pflags.
func (c *SchemaRegistryConfig) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.URL, "kafka-schema-registry-url", "http://localhost:8081", "Kafka schema registry url")
}

// retryRoundTripper retries GET requests on 5xx responses with exponential
// backoff. This tool makes a handful of schema lookups per query, not
// sustained service-to-service traffic, so there is no circuit breaker here.
type retryRoundTripper struct {
	next http.RoundTripper
}

func (rt retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	attempt := func() error {
		resp, err = rt.next.RoundTrip(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return xerrors.Errorf("schema registry returned status %d", resp.StatusCode)
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	expBackoff.MaxInterval = time.Second
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 0.5
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, 5), req.Context())
	if retryErr := backoff.Retry(attempt, policy); retryErr != nil {
		log.Get(req.Context()).Debug("schema registry request exhausted retries", zap.Error(retryErr))
	}
	return resp, err
}

// SchemaRegistryClient resolves Avro schemas by id and decodes
// Confluent-wire-format messages (magic byte + 4-byte schema id + Avro
// binary body) into field maps, caching schemas by id since the registry's
// contents are append-only and immutable.
type SchemaRegistryClient struct {
	cfg    SchemaRegistryConfig
	client *http.Client
	cache  sync.Map // id uint32 -> *goavro.Codec
}

// NewSchemaRegistryClient creates a SchemaRegistryClient.
func NewSchemaRegistryClient(cfg SchemaRegistryConfig) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		cfg:    cfg,
		client: &http.Client{Transport: retryRoundTripper{next: http.DefaultTransport}},
	}
}

// Decode implements Decoder for an Avro-encoded topic.
func (c *SchemaRegistryClient) Decode(ctx context.Context, value []byte) (map[string]interface{}, error) {
	if len(value) < 5 {
		return nil, xerrors.Errorf("message too short to carry a schema id")
	}
	schemaID := binary.BigEndian.Uint32(value[1:5])
	codec, err := c.codecFor(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	native, _, err := codec.NativeFromBinary(value[5:])
	if err != nil {
		return nil, xerrors.Errorf("failed to decode avro message: %w", err)
	}
	record, ok := native.(map[string]interface{})
	if !ok {
		return nil, xerrors.Errorf("decoded avro message is not a record")
	}
	return record, nil
}

func (c *SchemaRegistryClient) codecFor(ctx context.Context, id uint32) (*goavro.Codec, error) {
	if cached, ok := c.cache.Load(id); ok {
		return cached.(*goavro.Codec), nil
	}
	schema, err := c.fetchSchema(ctx, id)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, xerrors.Errorf("invalid avro schema for id %d: %w", id, err)
	}
	c.cache.Store(id, codec)
	return codec, nil
}

func (c *SchemaRegistryClient) fetchSchema(ctx context.Context, id uint32) (string, error) {
	endpoint := fmt.Sprintf("%s/schemas/ids/%d", c.cfg.URL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", xerrors.Errorf("failed to build schema registry request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.schemaregistry.v1+json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", xerrors.Errorf("schema registry request failed: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", xerrors.Errorf("schema %d not found", id)
	default:
		return "", xerrors.Errorf("schema registry returned status %d", resp.StatusCode)
	}
	var body struct {
		Schema string `json:"schema"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", xerrors.Errorf("invalid schema registry response: %w", err)
	}
	return body.Schema, nil
}
