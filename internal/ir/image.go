package ir

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"loxvm/internal/heap"
	"loxvm/internal/value"
)

// ImageExt is the file extension of compiled scripts.
const ImageExt = ".loxc"

// ImageVersion is bumped whenever the payload layout or instruction set
// changes.
const ImageVersion uint8 = 1

var imageMagic = [4]byte{'L', 'O', 'X', 'C'}

// ErrBadImage reports an image that cannot be loaded.
var ErrBadImage = errors.New("invalid bytecode image")

type constKind uint8

const (
	constNil constKind = iota
	constBool
	constNumber
	constString
	constFunction
)

type imageConstant struct {
	Kind     constKind      `msgpack:"k"`
	Bool     bool           `msgpack:"b,omitempty"`
	Number   float64        `msgpack:"n,omitempty"`
	String   string         `msgpack:"s,omitempty"`
	Function *imageFunction `msgpack:"f,omitempty"`
}

type imageFunction struct {
	Name         string          `msgpack:"name"`
	Named        bool            `msgpack:"named"`
	Arity        int             `msgpack:"arity"`
	UpvalueCount int             `msgpack:"upvalues"`
	Code         []byte          `msgpack:"code"`
	Lines        []int           `msgpack:"lines"`
	Constants    []imageConstant `msgpack:"constants"`
}

// WriteImageFile writes fn to filename.
func WriteImageFile(filename string, fn *value.Function) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteImage(bw, fn); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadImageFile loads the image at filename into h.
func ReadImageFile(filename string, h *heap.Heap) (*value.Function, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadImage(bufio.NewReader(f), h)
}

// WriteImage encodes the top-level function fn: magic, version, a BLAKE2b-256
// digest of the payload, then the msgpack payload.
func WriteImage(w io.Writer, fn *value.Function) error {
	img, err := encodeFunction(fn, 0)
	if err != nil {
		return err
	}
	payload, err := msgpack.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	digest := blake2b.Sum256(payload)

	if _, err := w.Write(imageMagic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{ImageVersion}); err != nil {
		return err
	}
	if _, err := w.Write(digest[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadImage decodes an image into h and returns its top-level function.
// The returned function is not rooted.
func ReadImage(r io.Reader, h *heap.Heap) (*value.Function, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if hdr != imageMagic {
		return nil, fmt.Errorf("%w: invalid magic header %q", ErrBadImage, string(hdr[:]))
	}
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if version[0] != ImageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (want %d)", ErrBadImage, version[0], ImageVersion)
	}
	var digest [blake2b.Size256]byte
	if _, err := io.ReadFull(r, digest[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if blake2b.Sum256(payload) != digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrBadImage)
	}

	var img imageFunction
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if img.Arity != 0 || img.UpvalueCount != 0 {
		return nil, fmt.Errorf("%w: top-level function takes %d arguments and %d upvalues",
			ErrBadImage, img.Arity, img.UpvalueCount)
	}

	// Nothing built here is rooted until the caller takes the result.
	prev := h.SetDeferred(true)
	defer h.SetDeferred(prev)

	fn, err := decodeFunction(h, &img, 0)
	if err != nil {
		return nil, err
	}
	return fn, nil
}

// maxNesting bounds function nesting in images so a crafted file cannot
// exhaust the Go stack.
const maxNesting = 256

func encodeFunction(fn *value.Function, depth int) (*imageFunction, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("functions nested too deeply")
	}
	img := &imageFunction{
		Arity:        fn.Arity,
		UpvalueCount: fn.UpvalueCount,
		Code:         fn.Chunk.Code,
		Lines:        fn.Chunk.Lines,
		Constants:    make([]imageConstant, 0, len(fn.Chunk.Constants)),
	}
	if fn.Name != nil {
		img.Name = fn.Name.Chars
		img.Named = true
	}
	for _, c := range fn.Chunk.Constants {
		switch {
		case c.IsNil():
			img.Constants = append(img.Constants, imageConstant{Kind: constNil})
		case c.IsBool():
			img.Constants = append(img.Constants, imageConstant{Kind: constBool, Bool: c.AsBool()})
		case c.IsNumber():
			img.Constants = append(img.Constants, imageConstant{Kind: constNumber, Number: c.AsNumber()})
		case c.IsString():
			img.Constants = append(img.Constants, imageConstant{Kind: constString, String: c.AsString().Chars})
		case c.IsFunction():
			inner, err := encodeFunction(c.AsFunction(), depth+1)
			if err != nil {
				return nil, err
			}
			img.Constants = append(img.Constants, imageConstant{Kind: constFunction, Function: inner})
		default:
			return nil, fmt.Errorf("cannot encode constant %s", c)
		}
	}
	return img, nil
}

func decodeFunction(h *heap.Heap, img *imageFunction, depth int) (*value.Function, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: functions nested too deeply", ErrBadImage)
	}
	if len(img.Lines) != len(img.Code) {
		return nil, fmt.Errorf("%w: %d code bytes but %d line entries", ErrBadImage, len(img.Code), len(img.Lines))
	}
	if _, err := safecast.Conv[uint8](img.Arity); err != nil {
		return nil, fmt.Errorf("%w: arity %d", ErrBadImage, img.Arity)
	}
	if _, err := safecast.Conv[uint8](img.UpvalueCount); err != nil {
		return nil, fmt.Errorf("%w: upvalue count %d", ErrBadImage, img.UpvalueCount)
	}
	if len(img.Constants) > value.MaxConstants {
		return nil, fmt.Errorf("%w: %d constants", ErrBadImage, len(img.Constants))
	}

	fn := h.NewFunction()
	fn.Arity = img.Arity
	fn.UpvalueCount = img.UpvalueCount
	if img.Named {
		fn.Name = h.CopyString(img.Name)
	}
	for i, b := range img.Code {
		fn.Chunk.Write(b, img.Lines[i])
	}
	for _, c := range img.Constants {
		switch c.Kind {
		case constNil:
			fn.Chunk.AddConstant(value.Nil())
		case constBool:
			fn.Chunk.AddConstant(value.Bool(c.Bool))
		case constNumber:
			fn.Chunk.AddConstant(value.Number(c.Number))
		case constString:
			fn.Chunk.AddConstant(value.FromObj(h.CopyString(c.String)))
		case constFunction:
			if c.Function == nil {
				return nil, fmt.Errorf("%w: empty function constant", ErrBadImage)
			}
			inner, err := decodeFunction(h, c.Function, depth+1)
			if err != nil {
				return nil, err
			}
			fn.Chunk.AddConstant(value.FromObj(inner))
		default:
			return nil, fmt.Errorf("%w: unknown constant kind %d", ErrBadImage, c.Kind)
		}
	}
	if err := Verify(fn); err != nil {
		return nil, err
	}
	return fn, nil
}
