package tensor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Version of the array file format.
const Version = 1

// chunk is the number of elements converted per buffered write or read.
const chunk = 16 << 10

var (
	ErrCorrupt  = errors.New("corrupt array data")
	ErrDType    = errors.New("unexpected array element type")
	ErrTooLarge = errors.New("array too large to encode")
)

// header precedes the element data. The file is a MessagePack stream of the
// header map followed by one bin value holding the little endian elements.
type header struct {
	Version int   `msgpack:"v"`
	DType   DType `msgpack:"dtype"`
	Shape   []int `msgpack:"dim"`
}

func (d DType) width() int {
	switch d {
	case Float32Type:
		return 4
	case Int64Type:
		return 8
	}
	return 0
}

// Encode writes a in the array file format.
func Encode(w io.Writer, a Array) error {
	nbytes := a.Size() * a.DType().width()
	if int64(nbytes) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, nbytes)
	}
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	h := header{Version: Version, DType: a.DType(), Shape: a.Dims()}
	if h.Shape == nil {
		h.Shape = []int{}
	}
	if err := enc.Encode(&h); err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	if err := enc.EncodeBytesLen(nbytes); err != nil {
		return fmt.Errorf("error encoding data length: %w", err)
	}
	buf := make([]byte, 0, chunk*a.DType().width())
	for from := 0; from < a.Size(); from += chunk {
		to := min(from+chunk, a.Size())
		buf = a.appendData(buf[:0], from, to)
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("error encoding data: %w", err)
		}
	}
	return bw.Flush()
}

// DecodeFloat32 reads a float32 array written by Encode.
func DecodeFloat32(r io.Reader) (*Float32, error) {
	a := &Float32{}
	if err := decode(r, Float32Type, func(shape []int, size int) Array {
		a.Shape, a.Data = shape, make([]float32, size)
		return a
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// DecodeInt64 reads an int64 array written by Encode.
func DecodeInt64(r io.Reader) (*Int64, error) {
	a := &Int64{}
	if err := decode(r, Int64Type, func(shape []int, size int) Array {
		a.Shape, a.Data = shape, make([]int64, size)
		return a
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func decode(r io.Reader, want DType, alloc func(shape []int, size int) Array) error {
	br := bufio.NewReader(r)
	dec := msgpack.NewDecoder(br)
	var h header
	if err := dec.Decode(&h); err != nil {
		return fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if h.DType != want {
		return fmt.Errorf("%w: got %q, want %q", ErrDType, h.DType, want)
	}
	size := 1
	for _, d := range h.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrCorrupt, h.Shape)
		}
		if d != 0 && int64(size) > math.MaxUint32/int64(want.width())/int64(d) {
			return fmt.Errorf("%w: shape %v too large", ErrCorrupt, h.Shape)
		}
		size *= d
	}
	nbytes, err := dec.DecodeBytesLen()
	if err != nil {
		return fmt.Errorf("%w: data length: %v", ErrCorrupt, err)
	}
	if nbytes != size*want.width() {
		return fmt.Errorf("%w: %d data bytes for shape %v", ErrCorrupt, nbytes, h.Shape)
	}
	a := alloc(h.Shape, size)
	buf := make([]byte, chunk*want.width())
	for from := 0; from < size; from += chunk {
		n := (min(from+chunk, size) - from) * want.width()
		if _, err := io.ReadFull(br, buf[:n]); err != nil {
			return fmt.Errorf("%w: data: %v", ErrCorrupt, err)
		}
		a.setData(buf[:n], from)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	return nil
}

func (a *Float32) appendData(dst []byte, from, to int) []byte {
	for _, v := range a.Data[from:to] {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func (a *Float32) setData(src []byte, from int) {
	for i := 0; i < len(src)/4; i++ {
		a.Data[from+i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

func (a *Int64) appendData(dst []byte, from, to int) []byte {
	for _, v := range a.Data[from:to] {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(v))
	}
	return dst
}

func (a *Int64) setData(src []byte, from int) {
	for i := 0; i < len(src)/8; i++ {
		a.Data[from+i] = int64(binary.LittleEndian.Uint64(src[i*8:]))
	}
}
