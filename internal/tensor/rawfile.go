package tensor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// ReadRaw reads a little-endian float32 file holding exactly Volume(shape) values.
func ReadRaw(path string, shape []int) (*Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tensor file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat tensor file: %w", err)
	}
	n := Volume(shape)
	if info.Size() != int64(n)*4 {
		return nil, fmt.Errorf("tensor file %s has %d bytes, shape %v needs %d", path, info.Size(), shape, n*4)
	}
	data := make([]float32, n)
	if err := binary.Read(bufio.NewReader(file), binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read tensor file: %w", err)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// WriteRaw writes t's values as little-endian float32.
func WriteRaw(w io.Writer, t *Tensor) error {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}
