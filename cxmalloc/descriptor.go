package cxmalloc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/cxmalloc/shape"
)

// Default descriptor parameters.
const (
	DefaultBlockSize     = 1 << 20
	DefaultUnitSize      = 8
	DefaultSubdue        = 2
	DefaultMaxAllocators = 128
	DefaultLineLimit     = 1 << 20
)

// MetaParams describes the metaflex pair that starts every line.
type MetaParams struct {
	// Init is written to the metaflex of every fresh line.
	Init linehead.Metaflex `yaml:"-"`
	// InitM1 and InitM2 are the YAML form of Init.
	InitM1 uint64 `yaml:"init_m1"`
	InitM2 uint64 `yaml:"init_m2"`
	// SerializedSize is the number of meta bytes persisted per line (0..16).
	SerializedSize uint32 `yaml:"serialized_size"`
}

// ObjectParams describes the per-line object header after the line head.
type ObjectParams struct {
	Size           uint32 `yaml:"size"`
	SerializedSize uint32 `yaml:"serialized_size"`
}

// UnitParams describes array units.
type UnitParams struct {
	Size           uint32 `yaml:"size"`
	SerializedSize uint32 `yaml:"serialized_size"`
}

// Parameters tunes block size and the size ladder.
type Parameters struct {
	BlockSize      uint64 `yaml:"block_size"`
	LineLimit      uint32 `yaml:"line_limit"`
	Subdue         uint32 `yaml:"subdue"`
	AllowOversized bool   `yaml:"allow_oversized"`
	MaxAllocators  uint32 `yaml:"max_allocators"`
}

// PersistParams locates the persistence directory. An empty Path disables
// persistence.
type PersistParams struct {
	Path string `yaml:"path"`
}

// Descriptor is the immutable configuration of a family.
type Descriptor struct {
	Name      string        `yaml:"name"`
	Meta      MetaParams    `yaml:"meta"`
	Object    ObjectParams  `yaml:"object"`
	Unit      UnitParams    `yaml:"unit"`
	Parameter Parameters    `yaml:"parameter"`
	Persist   PersistParams `yaml:"persist"`

	// Serializer encodes line payloads for persistence. Not loaded from YAML.
	Serializer LineSerializer `yaml:"-"`
}

// DefaultDescriptor returns a descriptor for 8-byte units without an object
// header, serializing the full line.
func DefaultDescriptor(name string) Descriptor {
	return Descriptor{
		Name: name,
		Meta: MetaParams{SerializedSize: 16},
		Unit: UnitParams{Size: DefaultUnitSize, SerializedSize: DefaultUnitSize},
		Parameter: Parameters{
			BlockSize:     DefaultBlockSize,
			LineLimit:     DefaultLineLimit,
			Subdue:        DefaultSubdue,
			MaxAllocators: DefaultMaxAllocators,
		},
	}
}

// Validate checks the descriptor and returns the shape configuration it implies.
func (d *Descriptor) Validate() (shape.Config, error) {
	switch {
	case d.Name == "":
		return shape.Config{}, fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	case d.Meta.SerializedSize > 16:
		return shape.Config{}, fmt.Errorf("%w: meta serialized size %d > 16", ErrInvalidDescriptor, d.Meta.SerializedSize)
	case d.Object.SerializedSize > d.Object.Size:
		return shape.Config{}, fmt.Errorf("%w: object serialized size %d > size %d", ErrInvalidDescriptor, d.Object.SerializedSize, d.Object.Size)
	case d.Unit.SerializedSize > d.Unit.Size:
		return shape.Config{}, fmt.Errorf("%w: unit serialized size %d > size %d", ErrInvalidDescriptor, d.Unit.SerializedSize, d.Unit.Size)
	case d.Parameter.MaxAllocators == 0:
		return shape.Config{}, fmt.Errorf("%w: max allocators must be positive", ErrInvalidDescriptor)
	case d.Parameter.LineLimit == 0:
		return shape.Config{}, fmt.Errorf("%w: line limit must be positive", ErrInvalidDescriptor)
	}
	cfg := shape.Config{
		ObjectSize: d.Object.Size,
		UnitSize:   d.Unit.Size,
		Subdue:     d.Parameter.Subdue,
		BlockSize:  d.Parameter.BlockSize,
		Serialized: shape.Serialized{
			MetaSize: d.Meta.SerializedSize,
			ObjSize:  d.Object.SerializedSize,
			UnitSize: d.Unit.SerializedSize,
		},
	}
	if _, err := shape.New(cfg); err != nil {
		return shape.Config{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return cfg, nil
}

// ParseDescriptor decodes a YAML descriptor. Missing fields take the
// DefaultDescriptor values.
func ParseDescriptor(data []byte) (Descriptor, error) {
	d := DefaultDescriptor("")
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	d.Meta.Init = linehead.Metaflex{M1: d.Meta.InitM1, M2: d.Meta.InitM2}
	if _, err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// LoadDescriptor reads a YAML descriptor file.
func LoadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, &PersistError{Op: "read", Path: path, Cause: err}
	}
	return ParseDescriptor(data)
}

// yamlForm copies Init into the YAML fields.
func (d Descriptor) yamlForm() Descriptor {
	d.Meta.InitM1, d.Meta.InitM2 = d.Meta.Init.M1, d.Meta.Init.M2
	return d
}

// EncodeDescriptor renders d as YAML.
func EncodeDescriptor(d Descriptor) ([]byte, error) {
	return yaml.Marshal(d.yamlForm())
}
