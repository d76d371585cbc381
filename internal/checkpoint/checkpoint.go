// Package checkpoint snapshots fusion parameters to disk.
//
// A checkpoint file is a protobuf wire-format message:
//
//	1: format version (varint)
//	2: step (varint)
//	3: created, unix nanoseconds (varint)
//	4: tensor (repeated, length-delimited)
//	     1: name (string)
//	     2: shape (packed varint)
//	     3: values (packed fixed32, IEEE 754 float32)
package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"groundseg/internal/fileutil"
	"groundseg/internal/fusion"
	"groundseg/internal/tensor"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

const (
	fieldVersion protowire.Number = 1
	fieldStep    protowire.Number = 2
	fieldCreated protowire.Number = 3
	fieldTensor  protowire.Number = 4

	fieldName   protowire.Number = 1
	fieldShape  protowire.Number = 2
	fieldValues protowire.Number = 3
)

// Record is one snapshot.
type Record struct {
	Step    int
	Created time.Time
	Tensors []tensor.Named
}

// FromParameters copies params into a record.
func FromParameters(step int, created time.Time, params []*fusion.Parameter) Record {
	rec := Record{Step: step, Created: created}
	for _, p := range params {
		t := tensor.New(p.Rows, p.Cols)
		for i, v := range p.Value {
			t.Data[i] = float32(v)
		}
		rec.Tensors = append(rec.Tensors, tensor.Named{Name: p.Name, Tensor: t})
	}
	return rec
}

// FileName returns checkpoint_<step>.pth.
func FileName(step int) string {
	return fmt.Sprintf("checkpoint_%d.pth", step)
}

// StepFromFileName parses the step out of a checkpoint file name.
func StepFromFileName(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "checkpoint_") || !strings.HasSuffix(base, ".pth") {
		return 0, false
	}
	step, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "checkpoint_"), ".pth"))
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// Write stores rec as dir/checkpoint_<step>.pth and returns the path.
func Write(dir string, rec Record) (string, error) {
	path := filepath.Join(dir, FileName(rec.Step))
	if err := fileutil.WriteFileAtomic(path, Marshal(rec), 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

// Read loads a checkpoint file.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	rec, err := Unmarshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Marshal encodes rec.
func Marshal(rec Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, FormatVersion)
	b = protowire.AppendTag(b, fieldStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Step))
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Created.UnixNano()))
	for _, nt := range rec.Tensors {
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(nt))
	}
	return b
}

func marshalTensor(nt tensor.Named) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, nt.Name)

	var shape []byte
	for _, d := range nt.Tensor.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	values := make([]byte, 0, 4*len(nt.Tensor.Data))
	for _, v := range nt.Tensor.Data {
		values = protowire.AppendFixed32(values, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldValues, protowire.BytesType)
	b = protowire.AppendBytes(b, values)
	return b
}

// Unmarshal decodes a checkpoint. Unknown fields are skipped.
func Unmarshal(b []byte) (Record, error) {
	var rec Record
	version := uint64(0)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			version, b = v, b[n:]
		case num == fieldStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			rec.Step, b = int(v), b[n:]
		case num == fieldCreated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			rec.Created, b = time.Unix(0, int64(v)), b[n:]
		case num == fieldTensor && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			nt, err := unmarshalTensor(raw)
			if err != nil {
				return Record{}, err
			}
			rec.Tensors, b = append(rec.Tensors, nt), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if version != FormatVersion {
		return Record{}, fmt.Errorf("unsupported checkpoint format version %d", version)
	}
	return rec, nil
}

func unmarshalTensor(b []byte) (tensor.Named, error) {
	var (
		name   string
		shape  []int
		values []float32
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return tensor.Named{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType || num < fieldName || num > fieldValues {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return tensor.Named{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return tensor.Named{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldName:
			name = string(raw)
		case fieldShape:
			for len(raw) > 0 {
				v, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return tensor.Named{}, protowire.ParseError(n)
				}
				shape, raw = append(shape, int(v)), raw[n:]
			}
		case fieldValues:
			if len(raw)%4 != 0 {
				return tensor.Named{}, errors.New("tensor values are not a whole number of float32s")
			}
			values = make([]float32, 0, len(raw)/4)
			for len(raw) > 0 {
				v, n := protowire.ConsumeFixed32(raw)
				if n < 0 {
					return tensor.Named{}, protowire.ParseError(n)
				}
				values, raw = append(values, math.Float32frombits(v)), raw[n:]
			}
		}
	}
	t, err := tensor.FromData(shape, values)
	if err != nil {
		return tensor.Named{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	return tensor.Named{Name: name, Tensor: t}, nil
}
