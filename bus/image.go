package bus

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/keks/framefs"
)

// Compression identifies how the record stream of an image is compressed.
// The value is stored in the image header.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "", "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var imageMagic = [4]byte{'F', 'F', 'S', 'I'}

// ErrBadImage indicates an image that cannot be decoded.
var ErrBadImage = errors.New("bad block image")

// imageHeader is the first record of the stream.
type imageHeader struct {
	FrameSize int `cbor:"1,keyasint"`
	Capacity  int `cbor:"2,keyasint"`
	Frames    int `cbor:"3,keyasint"`
}

// frameRecord carries one materialized frame.
type frameRecord struct {
	Index uint16 `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	var err error
	imageEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bus: CBOR encoder initialization failed: " + err.Error())
	}
}

// SaveImage writes every materialized frame of b to w. All-zero frames are
// skipped since they read back as zeros anyway.
func (b *MemoryBus) SaveImage(w io.Writer, comp Compression) error {
	b.l.Lock()
	defer b.l.Unlock()

	var zero framefs.Frame
	var idxs []framefs.FrameIndex
	for _, idx := range b.mem.indices() {
		if *b.mem.frames[idx] != zero {
			idxs = append(idxs, idx)
		}
	}

	hdr := append(imageMagic[:], byte(comp))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("writing image header: %w", err)
	}

	cw, err := compressWriter(w, comp)
	if err != nil {
		return err
	}

	enc := imageEncMode.NewEncoder(cw)
	err = enc.Encode(imageHeader{
		FrameSize: framefs.FrameSize,
		Capacity:  b.capacity,
		Frames:    len(idxs),
	})
	if err != nil {
		return fmt.Errorf("encoding image header: %w", err)
	}

	for _, idx := range idxs {
		rec := frameRecord{Index: uint16(idx), Data: b.mem.frames[idx][:]}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding frame %d: %w", idx, err)
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("finishing image: %w", err)
	}

	framefs.LogInfo(framefs.ComponentBus, "image saved", "frames", len(idxs), "compression", comp.String())
	return nil
}

// LoadImage replaces the content of b with the frames stored in r.
func (b *MemoryBus) LoadImage(r io.Reader) error {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrBadImage, err)
	}
	if !bytes.Equal(hdr[:4], imageMagic[:]) {
		return fmt.Errorf("%w: bad magic %q", ErrBadImage, hdr[:4])
	}

	cr, err := decompressReader(r, Compression(hdr[4]))
	if err != nil {
		return err
	}
	defer cr.Close()

	dec := cbor.NewDecoder(cr)

	var ih imageHeader
	if err := dec.Decode(&ih); err != nil {
		return fmt.Errorf("%w: decoding header: %v", ErrBadImage, err)
	}
	if ih.FrameSize != framefs.FrameSize {
		return fmt.Errorf("%w: frame size %d, want %d", ErrBadImage, ih.FrameSize, framefs.FrameSize)
	}
	if ih.Capacity <= 0 || ih.Capacity > b.capacity {
		return fmt.Errorf("%w: capacity %d, bus capacity %d", ErrBadImage, ih.Capacity, b.capacity)
	}
	if ih.Frames < 0 || ih.Frames > ih.Capacity {
		return fmt.Errorf("%w: %d frames in a block of %d", ErrBadImage, ih.Frames, ih.Capacity)
	}

	frames := make(map[framefs.FrameIndex]*framefs.Frame, ih.Frames)
	for i := 0; i < ih.Frames; i++ {
		var rec frameRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("%w: decoding frame record %d: %v", ErrBadImage, i, err)
		}
		if len(rec.Data) != framefs.FrameSize || int(rec.Index) >= ih.Capacity {
			return fmt.Errorf("%w: frame record %d malformed", ErrBadImage, i)
		}
		f := new(framefs.Frame)
		copy(f[:], rec.Data)
		frames[framefs.FrameIndex(rec.Index)] = f
	}

	b.l.Lock()
	b.mem.frames = frames
	b.l.Unlock()

	framefs.LogInfo(framefs.ComponentBus, "image loaded", "frames", len(frames))
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, comp Compression) (io.WriteCloser, error) {
	switch comp {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", comp)
	}
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func decompressReader(r io.Reader, comp Compression) (io.ReadCloser, error) {
	switch comp {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: creating zstd reader: %v", ErrBadImage, err)
		}
		return zstdReadCloser{dec}, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrBadImage, comp)
	}
}
