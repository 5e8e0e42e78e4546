package cxmalloc

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/cxmalloc/shape"
	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/format"
)

// LineSerializer encodes line payloads for persistence. Each active line
// gets a fixed-size record in the block base file (Meta, Object and Array,
// sized by the descriptor's serialized sizes) and a free-form record in the
// block ext file.
type LineSerializer interface {
	SerializeLine(ctx *SerializeContext) error
	DeserializeLine(ctx *DeserializeContext) error
}

// SerializeContext carries one active line to a LineSerializer.
type SerializeContext struct {
	Line  Line
	Shape shape.Datashape

	// Zeroed QWORD regions of the base record, filled by the serializer.
	Meta   []uint64
	Object []uint64
	Array  []uint64

	ext *buf.Writer
}

// PutExt appends QWORDs to the line's ext record.
func (c *SerializeContext) PutExt(q ...uint64) { c.ext.PutQWords(q...) }

// PutExtBytes appends b, zero padded to a QWORD boundary, and returns the
// QWORDs written.
func (c *SerializeContext) PutExtBytes(b []byte) int { return c.ext.PutBytes(b) }

// DeserializeContext carries one persisted line to a LineSerializer. Line
// is a fresh slot whose identity fields are already set.
type DeserializeContext struct {
	Line  Line
	Shape shape.Datashape

	Meta   []uint64
	Object []uint64
	Array  []uint64

	ext *buf.Reader
}

// ExtQWords reads n QWORDs of the line's ext record.
func (c *DeserializeContext) ExtQWords(n int) ([]uint64, error) { return c.ext.QWords(n) }

// ExtBytes reads n QWORDs of the ext record as bytes. The slice aliases the
// mapped file and is only valid during the callback.
func (c *DeserializeContext) ExtBytes(n int) ([]byte, error) { return c.ext.Bytes(n) }

// RawSerializer persists the metaflex, object header and array bytes as
// stored, truncated to the serialized sizes. The ext record is an xxh3
// digest of the array, checked on restore.
type RawSerializer struct{}

// SerializeLine implements LineSerializer.
func (RawSerializer) SerializeLine(ctx *SerializeContext) error {
	m := ctx.Line.Meta()
	meta := [2]uint64{m.M1, m.M2}
	copy(ctx.Meta, meta[:])
	obj := ctx.Line.object()
	format.BytesToQWords(ctx.Object, obj[:min(len(obj), int(ctx.Shape.Serialized.ObjSize))])
	arr := packArray(ctx.Line, ctx.Shape)
	format.BytesToQWords(ctx.Array, arr)
	ctx.PutExt(xxh3.Hash(arr))
	return nil
}

// DeserializeLine implements LineSerializer.
func (RawSerializer) DeserializeLine(ctx *DeserializeContext) error {
	var meta [2]uint64
	copy(meta[:], ctx.Meta)
	ctx.Line.Head().SetMeta(linehead.Metaflex{M1: meta[0], M2: meta[1]})
	obj := ctx.Line.object()
	format.QWordsToBytes(obj[:min(len(obj), int(ctx.Shape.Serialized.ObjSize))], ctx.Object)
	arr := make([]byte, int(ctx.Shape.Serialized.UnitSize)*int(ctx.Shape.Line.AWidth))
	format.QWordsToBytes(arr, ctx.Array)
	unpackArray(ctx.Line, ctx.Shape, arr)
	sum, err := ctx.ExtQWords(1)
	if err != nil {
		return err
	}
	if got := xxh3.Hash(arr); got != sum[0] {
		return fmt.Errorf("%w: line %v digest %016x, stored %016x", ErrCorruption, ctx.Line.Handle(), got, sum[0])
	}
	return nil
}

// packArray returns the persisted prefix of every unit, back to back.
func packArray(ln Line, s shape.Datashape) []byte {
	arr := ln.array()
	unit, ser := int(s.Line.UnitSize), int(s.Serialized.UnitSize)
	if ser >= unit {
		return arr
	}
	out := make([]byte, ser*int(s.Line.AWidth))
	for i := range int(s.Line.AWidth) {
		copy(out[i*ser:(i+1)*ser], arr[i*unit:])
	}
	return out
}

// unpackArray is the inverse of packArray.
func unpackArray(ln Line, s shape.Datashape, packed []byte) {
	arr := ln.array()
	unit, ser := int(s.Line.UnitSize), int(s.Serialized.UnitSize)
	if ser >= unit {
		copy(arr, packed)
		return
	}
	for i := range int(s.Line.AWidth) {
		copy(arr[i*unit:i*unit+ser], packed[i*ser:])
	}
}
