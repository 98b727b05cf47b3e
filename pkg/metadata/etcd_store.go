// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStoreConfig defines how we connect to etcd for job metadata.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// EtcdStore keeps manifests and range records in etcd so planner, producers
// and assembler can run as separate processes.
type EtcdStore struct {
	client *clientv3.Client
}

const etcdOpTimeout = 3 * time.Second

// NewEtcdStore initializes a store backed by etcd.
func NewEtcdStore(ctx context.Context, cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Close releases the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// PutManifest implements Store with a create-if-absent transaction.
func (s *EtcdStore) PutManifest(ctx context.Context, job string, manifest []byte) error {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	key := ManifestKey(job)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(manifest))).
		Else(clientv3.OpGet(key)).
		Commit()
	if err != nil {
		return fmt.Errorf("put manifest %s: %w", job, err)
	}
	if resp.Succeeded {
		return nil
	}
	kvs := resp.Responses[0].GetResponseRange().GetKvs()
	if len(kvs) > 0 && bytes.Equal(kvs[0].Value, manifest) {
		return nil
	}
	return ErrJobExists
}

// Manifest implements Store.
func (s *EtcdStore) Manifest(ctx context.Context, job string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	resp, err := s.client.Get(ctx, ManifestKey(job))
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", job, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrUnknownJob
	}
	return resp.Kvs[0].Value, nil
}

// MarkWritten implements Store. The record is only written while the job's
// manifest exists.
func (s *EtcdStore) MarkWritten(ctx context.Context, job string, rec RangeRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(ManifestKey(job)), ">", 0)).
		Then(clientv3.OpPut(RangeKey(job, rec.Image, rec.FirstRow), string(EncodeRangeRecord(rec)))).
		Commit()
	if err != nil {
		return fmt.Errorf("mark written %s: %w", job, err)
	}
	if !resp.Succeeded {
		return ErrUnknownJob
	}
	return nil
}

// WrittenRanges implements Store.
func (s *EtcdStore) WrittenRanges(ctx context.Context, job string) ([]RangeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	resp, err := s.client.Txn(ctx).
		Then(clientv3.OpGet(ManifestKey(job), clientv3.WithCountOnly()),
			clientv3.OpGet(RangePrefix(job), clientv3.WithPrefix())).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("list ranges %s: %w", job, err)
	}
	if resp.Responses[0].GetResponseRange().GetCount() == 0 {
		return nil, ErrUnknownJob
	}
	kvs := resp.Responses[1].GetResponseRange().GetKvs()
	out := make([]RangeRecord, 0, len(kvs))
	for _, kv := range kvs {
		if _, _, ok := ParseRangeKey(job, string(kv.Key)); !ok {
			continue
		}
		rec, err := DecodeRangeRecord(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// DeleteJob implements Store.
func (s *EtcdStore) DeleteJob(ctx context.Context, job string) error {
	ctx, cancel := context.WithTimeout(ctx, etcdOpTimeout)
	defer cancel()
	resp, err := s.client.Delete(ctx, JobPrefix(job), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("delete job %s: %w", job, err)
	}
	if resp.Deleted == 0 {
		return ErrUnknownJob
	}
	return nil
}

// Watch implements Store on an etcd prefix watch.
func (s *EtcdStore) Watch(ctx context.Context, job string) <-chan struct{} {
	out := make(chan struct{}, 1)
	watchChan := s.client.Watch(ctx, RangePrefix(job), clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range watchChan {
			if resp.Err() != nil || len(resp.Events) == 0 {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}
