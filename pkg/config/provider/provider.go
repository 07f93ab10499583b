// Copyright 2025 Kadir Pekel
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


// Package provider defines where configuration bytes come from.
//
// Providers load raw configuration and optionally signal changes so a
// running server can reload it.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile   Type = "file"
	TypeStatic Type = "static"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file", "":
		return TypeFile, nil
	case "static":
		return TypeStatic, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel when the config changes. The
	// channel is closed once ctx is done. A nil channel means the provider
	// cannot watch.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderConfig configures provider creation.
type ProviderConfig struct {
	Type Type

	// Path of the config file.
	Path string

	// Data is the document served by a static provider.
	Data []byte
}

// New creates a Provider based on ProviderConfig.
func New(opts ProviderConfig) (Provider, error) {
	switch opts.Type {
	case TypeFile, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("config path is required")
		}
		return NewFileProvider(opts.Path)
	case TypeStatic:
		return NewStaticProvider(opts.Data), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

// StaticProvider serves a fixed document. It never signals changes.
type StaticProvider struct {
	data []byte
}

// NewStaticProvider returns a provider serving a copy of data.
func NewStaticProvider(data []byte) *StaticProvider {
	return &StaticProvider{data: append([]byte(nil), data...)}
}

func (p *StaticProvider) Type() Type { return TypeStatic }

func (p *StaticProvider) Load(context.Context) ([]byte, error) {
	return append([]byte(nil), p.data...), nil
}

func (p *StaticProvider) Watch(context.Context) (<-chan struct{}, error) { return nil, nil }

func (p *StaticProvider) Close() error { return nil }

var _ Provider = (*StaticProvider)(nil)
