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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/worker"
)

// Config is the shared configuration of planner, producer and assembler.
type Config struct {
	Job       string          `yaml:"job"`
	Namespace string          `yaml:"namespace"`
	Product   product.Spec    `yaml:"product"`
	Inputs    []InputConfig   `yaml:"inputs"`
	Output    OutputConfig    `yaml:"output"`
	S3        S3Config        `yaml:"s3"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Tasks     TaskConfig      `yaml:"tasks"`
	Server    ServerConfig    `yaml:"server"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Cache     CacheConfig     `yaml:"cache"`
}

// InputConfig names the raw pixels of one image: a local path or an object key.
type InputConfig struct {
	Path   string `yaml:"path"`
	Key    string `yaml:"key"`
	Offset int64  `yaml:"offset"`
}

type OutputConfig struct {
	// Mode is "s3" (staged ranges composed by the assembler) or "file"
	// (producers write a shared local file in place).
	Mode       string `yaml:"mode"`
	Path       string `yaml:"path"`
	Name       string `yaml:"name"`
	FlushBytes int    `yaml:"flush_bytes"`
	RowIndex   bool   `yaml:"row_index"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	KMSKeyARN       string `yaml:"kms_key_arn"`
	Memory          bool   `yaml:"memory"`
}

type MetadataConfig struct {
	Backend string     `yaml:"backend"`
	Etcd    EtcdConfig `yaml:"etcd"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Group       string   `yaml:"group"`
	ClientID    string   `yaml:"client_id"`
	Partitions  int      `yaml:"partitions"`
	Replication int      `yaml:"replication"`
}

type TaskConfig struct {
	RowsPerTask int64 `yaml:"rows_per_task"`
	MaxAttempts int   `yaml:"max_attempts"`
	Parallel    int   `yaml:"parallel"`
}

type ServerConfig struct {
	MetricsListen string `yaml:"metrics_listen"`
	GRPCListen    string `yaml:"grpc_listen"`
	ProducerID    string `yaml:"producer_id"`
}

type AssemblerConfig struct {
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int  `yaml:"timeout_seconds"`
	Cleanup             bool `yaml:"cleanup"`
}

type CacheConfig struct {
	CapacityBytes int   `yaml:"capacity_bytes"`
	WindowBytes   int64 `yaml:"window_bytes"`
}

// Load reads path, applies defaults and NITFSCALE_* environment overrides,
// resolves DES data files relative to the config file and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := resolveFiles(&cfg, filepath.Dir(path)); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = "s3"
	}
	if cfg.Output.Name == "" {
		cfg.Output.Name = cfg.Job + ".ntf"
	}
	if cfg.Output.FlushBytes == 0 {
		cfg.Output.FlushBytes = 8 << 20
	}
	if cfg.Metadata.Backend == "" {
		cfg.Metadata.Backend = "etcd"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "nitfscale-tasks"
	}
	if cfg.Kafka.Group == "" {
		cfg.Kafka.Group = "nitfscale-producers"
	}
	if cfg.Kafka.Partitions == 0 {
		cfg.Kafka.Partitions = 12
	}
	if cfg.Kafka.Replication == 0 {
		cfg.Kafka.Replication = 1
	}
	if cfg.Tasks.MaxAttempts == 0 {
		cfg.Tasks.MaxAttempts = 3
	}
	if cfg.Tasks.Parallel == 0 {
		cfg.Tasks.Parallel = 4
	}
	if cfg.Server.MetricsListen == "" {
		cfg.Server.MetricsListen = ":9090"
	}
	if cfg.Server.GRPCListen == "" {
		cfg.Server.GRPCListen = ":9091"
	}
	if cfg.Server.ProducerID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Server.ProducerID = host
		}
	}
	if cfg.Assembler.PollIntervalSeconds == 0 {
		cfg.Assembler.PollIntervalSeconds = 5
	}
	if cfg.Assembler.TimeoutSeconds == 0 {
		cfg.Assembler.TimeoutSeconds = 3600
	}
	if cfg.Cache.CapacityBytes == 0 {
		cfg.Cache.CapacityBytes = 256 << 20
	}
	if cfg.Cache.WindowBytes == 0 {
		cfg.Cache.WindowBytes = 4 << 20
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Job, "NITFSCALE_JOB")
	setString(&cfg.Namespace, "NITFSCALE_NAMESPACE")

	setString(&cfg.Output.Mode, "NITFSCALE_OUTPUT_MODE")
	setString(&cfg.Output.Path, "NITFSCALE_OUTPUT_PATH")
	setInt(&cfg.Output.FlushBytes, "NITFSCALE_OUTPUT_FLUSH_BYTES")

	setString(&cfg.S3.Bucket, "NITFSCALE_S3_BUCKET")
	setString(&cfg.S3.Region, "NITFSCALE_S3_REGION")
	setString(&cfg.S3.Endpoint, "NITFSCALE_S3_ENDPOINT")
	setBool(&cfg.S3.PathStyle, "NITFSCALE_S3_PATH_STYLE")
	setString(&cfg.S3.AccessKeyID, "NITFSCALE_S3_ACCESS_KEY")
	setString(&cfg.S3.SecretAccessKey, "NITFSCALE_S3_SECRET_KEY")
	setString(&cfg.S3.SessionToken, "NITFSCALE_S3_SESSION_TOKEN")
	setString(&cfg.S3.KMSKeyARN, "NITFSCALE_S3_KMS_ARN")
	setBool(&cfg.S3.Memory, "NITFSCALE_S3_MEMORY")

	setString(&cfg.Metadata.Backend, "NITFSCALE_METADATA_BACKEND")
	setCSV(&cfg.Metadata.Etcd.Endpoints, "NITFSCALE_ETCD_ENDPOINTS")
	setString(&cfg.Metadata.Etcd.Username, "NITFSCALE_ETCD_USERNAME")
	setString(&cfg.Metadata.Etcd.Password, "NITFSCALE_ETCD_PASSWORD")

	setCSV(&cfg.Kafka.Brokers, "NITFSCALE_KAFKA_BROKERS")
	setString(&cfg.Kafka.Topic, "NITFSCALE_KAFKA_TOPIC")
	setString(&cfg.Kafka.Group, "NITFSCALE_KAFKA_GROUP")

	setInt(&cfg.Tasks.Parallel, "NITFSCALE_TASKS_PARALLEL")
	setString(&cfg.Server.MetricsListen, "NITFSCALE_METRICS_LISTEN")
	setString(&cfg.Server.GRPCListen, "NITFSCALE_GRPC_LISTEN")
	setString(&cfg.Server.ProducerID, "NITFSCALE_PRODUCER_ID")
}

func resolveFiles(cfg *Config, dir string) error {
	for i := range cfg.Product.DES {
		des := &cfg.Product.DES[i]
		if des.DataFile == "" {
			continue
		}
		p := des.DataFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("product.des[%d].data_file: %w", i, err)
		}
		des.Data = data
	}
	for i := range cfg.Inputs {
		if p := cfg.Inputs[i].Path; p != "" && !filepath.IsAbs(p) {
			cfg.Inputs[i].Path = filepath.Join(dir, p)
		}
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Job == "" {
		return fmt.Errorf("job is required")
	}
	if strings.ContainsAny(cfg.Job, "/ ") {
		return fmt.Errorf("job %q must not contain slashes or spaces", cfg.Job)
	}
	if len(cfg.Product.Images) == 0 {
		return fmt.Errorf("product.images is required")
	}
	if len(cfg.Inputs) != 0 && len(cfg.Inputs) != len(cfg.Product.Images) {
		return fmt.Errorf("inputs lists %d entries for %d images", len(cfg.Inputs), len(cfg.Product.Images))
	}
	for i, in := range cfg.Inputs {
		if (in.Path == "") == (in.Key == "") {
			return fmt.Errorf("inputs[%d] needs exactly one of path or key", i)
		}
		if in.Offset < 0 {
			return fmt.Errorf("inputs[%d].offset must not be negative", i)
		}
	}
	switch cfg.Output.Mode {
	case "s3":
		if cfg.S3.Bucket == "" && !cfg.S3.Memory {
			return fmt.Errorf("s3.bucket is required for output.mode=s3")
		}
	case "file":
		if cfg.Output.Path == "" {
			return fmt.Errorf("output.path is required for output.mode=file")
		}
	default:
		return fmt.Errorf("output.mode %q is not supported", cfg.Output.Mode)
	}
	switch cfg.Metadata.Backend {
	case "etcd":
		if len(cfg.Metadata.Etcd.Endpoints) == 0 {
			return fmt.Errorf("metadata.etcd.endpoints is required for metadata.backend=etcd")
		}
	case "memory":
	default:
		return fmt.Errorf("metadata.backend %q is not supported", cfg.Metadata.Backend)
	}
	if cfg.S3.Bucket != "" && cfg.S3.Region == "" && !cfg.S3.Memory {
		return fmt.Errorf("s3.region is required")
	}
	if cfg.Tasks.RowsPerTask < 0 {
		return fmt.Errorf("tasks.rows_per_task must not be negative")
	}
	return nil
}

// RawInputs converts the configured inputs for the worker sources.
func (c Config) RawInputs() []worker.RawInput {
	out := make([]worker.RawInput, 0, len(c.Inputs))
	for _, in := range c.Inputs {
		out = append(out, worker.RawInput{Path: in.Path, Key: in.Key, Offset: in.Offset})
	}
	return out
}

// ObjectInputs reports whether raw pixels are read from S3.
func (c Config) ObjectInputs() bool {
	return len(c.Inputs) > 0 && c.Inputs[0].Key != ""
}

func setString(target *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*target = val
	}
}

func setInt(target *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setBool(target *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			*target = parsed
		}
	}
}

func setCSV(target *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
