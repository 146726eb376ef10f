// Package persistence serializes engine state to a sectioned, checksummed
// snapshot format and back. Snapshots carry the anchor set, the embedding
// records and the flushed index entries; projections are not stored because
// they are a deterministic function of embedding and anchor set.
package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/blobstore"
	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/spatial"
)

const (
	magic         = "ATG1"
	formatVersion = uint16(1)

	sectionAnchors    = uint8(1)
	sectionEmbeddings = uint8(2)
	sectionEntries    = uint8(3)

	// Sections larger than a disk sector are worth compressing.
	compressionThreshold = 512
)

// Snapshot is the serializable engine state.
type Snapshot struct {
	GenerationID  uint64
	AnchorVersion uint32
	Metric        distance.Metric
	Curve         spatial.Curve
	Bound         float64

	Anchors    [][]float32
	Embeddings []embedding.Embedding
	Entries    []spatial.Entry
}

// SaveOptions configure serialization.
type SaveOptions struct {
	Compression Compression
}

// WithCompression selects the section compression. Default is zstd.
func WithCompression(c Compression) func(*SaveOptions) {
	return func(o *SaveOptions) { o.Compression = c }
}

// Save writes the snapshot to w.
//
// Layout: magic, format version, compression byte, fixed header, then one
// framed section per kind, then a footer CRC32 over everything before it.
// Each section frame carries its own CRC32 so corruption is reported with
// the section name.
func Save(w io.Writer, s *Snapshot, optFns ...func(*SaveOptions)) error {
	opts := SaveOptions{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	cw := newChecksumWriter(w)

	if _, err := cw.Write([]byte(magic)); err != nil {
		return err
	}
	header := make([]byte, 0, 32)
	header = binary.LittleEndian.AppendUint16(header, formatVersion)
	header = append(header, uint8(opts.Compression), uint8(s.Curve), uint8(s.Metric))
	header = binary.LittleEndian.AppendUint64(header, s.GenerationID)
	header = binary.LittleEndian.AppendUint32(header, s.AnchorVersion)
	header = binary.LittleEndian.AppendUint64(header, math.Float64bits(s.Bound))
	if _, err := cw.Write(header); err != nil {
		return err
	}

	sections := []struct {
		typ     uint8
		name    string
		payload []byte
	}{
		{sectionAnchors, "anchors", encodeAnchors(s.Anchors)},
		{sectionEmbeddings, "embeddings", encodeEmbeddings(s.Embeddings)},
		{sectionEntries, "entries", encodeEntries(s.Entries)},
	}
	for _, sec := range sections {
		if err := writeSection(cw, sec.typ, sec.name, sec.payload, opts.Compression); err != nil {
			return err
		}
	}

	footer := binary.LittleEndian.AppendUint32(nil, cw.Sum())
	_, err := w.Write(footer)
	return err
}

// Load reads a snapshot written by Save. Corruption is reported as a
// ChecksumMismatchError naming the damaged section.
func Load(r io.Reader) (*Snapshot, error) {
	cr := newChecksumReader(r)

	head := make([]byte, 4)
	if _, err := io.ReadFull(cr, head); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(head) != magic {
		return nil, fmt.Errorf("bad magic %q", head)
	}

	header := make([]byte, 25)
	if _, err := io.ReadFull(cr, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if v := binary.LittleEndian.Uint16(header[0:]); v != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", v)
	}
	compression := Compression(header[2])

	s := &Snapshot{
		Curve:         spatial.Curve(header[3]),
		Metric:        distance.Metric(header[4]),
		GenerationID:  binary.LittleEndian.Uint64(header[5:]),
		AnchorVersion: binary.LittleEndian.Uint32(header[13:]),
		Bound:         math.Float64frombits(binary.LittleEndian.Uint64(header[17:])),
	}

	for _, want := range []struct {
		typ  uint8
		name string
	}{
		{sectionAnchors, "anchors"},
		{sectionEmbeddings, "embeddings"},
		{sectionEntries, "entries"},
	} {
		payload, err := readSection(cr, want.typ, want.name, compression)
		if err != nil {
			return nil, err
		}
		switch want.typ {
		case sectionAnchors:
			s.Anchors, err = decodeAnchors(payload)
		case sectionEmbeddings:
			s.Embeddings, err = decodeEmbeddings(payload)
		case sectionEntries:
			s.Entries, err = decodeEntries(payload)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", want.name, err)
		}
	}

	streamSum := cr.Sum()
	footer := make([]byte, 4)
	if _, err := io.ReadFull(r, footer); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	if expected := binary.LittleEndian.Uint32(footer); expected != streamSum {
		return nil, &ChecksumMismatchError{Section: "footer", Expected: expected, Actual: streamSum}
	}
	return s, nil
}

// SaveToBlob serializes the snapshot and writes it as one blob.
func SaveToBlob(ctx context.Context, store blobstore.BlobStore, name string, s *Snapshot, optFns ...func(*SaveOptions)) error {
	var buf bytes.Buffer
	if err := Save(&buf, s, optFns...); err != nil {
		return err
	}
	return store.Put(ctx, name, buf.Bytes())
}

// LoadFromBlob reads and deserializes a snapshot blob.
func LoadFromBlob(ctx context.Context, store blobstore.BlobStore, name string) (*Snapshot, error) {
	rc, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Load(rc)
}

// Section frame: [type u8][blockLen u32][crc u32][block]. The CRC covers the
// block bytes as written, compressed or not.
func writeSection(w io.Writer, typ uint8, name string, payload []byte, c Compression) error {
	if len(payload) < compressionThreshold {
		c = CompressionNone
	}
	block, err := compressBlock(payload, c)
	if err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}

	frame := make([]byte, 0, 9+len(block))
	frame = append(frame, typ)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(block)))
	frame = binary.LittleEndian.AppendUint32(frame, Checksum(block))
	frame = append(frame, block...)
	_, err = w.Write(frame)
	return err
}

func readSection(r io.Reader, typ uint8, name string, c Compression) ([]byte, error) {
	head := make([]byte, 9)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read %s section header: %w", name, err)
	}
	if head[0] != typ {
		return nil, fmt.Errorf("expected %s section (type %d), got type %d", name, typ, head[0])
	}
	blockLen := binary.LittleEndian.Uint32(head[1:])
	expected := binary.LittleEndian.Uint32(head[5:])

	block := make([]byte, blockLen)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, fmt.Errorf("read %s section: %w", name, err)
	}
	if actual := Checksum(block); actual != expected {
		return nil, &ChecksumMismatchError{Section: name, Expected: expected, Actual: actual}
	}

	payload, err := decompressBlock(block, c)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", name, err)
	}
	return payload, nil
}

func encodeAnchors(anchors [][]float32) []byte {
	dim := 0
	if len(anchors) > 0 {
		dim = len(anchors[0])
	}
	out := make([]byte, 0, 8+len(anchors)*dim*4)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(anchors)))
	out = binary.LittleEndian.AppendUint32(out, uint32(dim))
	for _, a := range anchors {
		for _, v := range a {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}

func decodeAnchors(data []byte) ([][]float32, error) {
	rd := byteReader{data: data}
	count := rd.uint32()
	dim := rd.uint32()
	anchors := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(rd.uint32())
		}
		anchors = append(anchors, vec)
	}
	return anchors, rd.finish()
}

func encodeEmbeddings(embs []embedding.Embedding) []byte {
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, uint32(len(embs)))
	for _, e := range embs {
		out = binary.LittleEndian.AppendUint64(out, uint64(e.AtomID))
		out = binary.LittleEndian.AppendUint16(out, uint16(len(e.ModelID)))
		out = append(out, e.ModelID...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Vector)))
		for _, v := range e.Vector {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	return out
}

func decodeEmbeddings(data []byte) ([]embedding.Embedding, error) {
	rd := byteReader{data: data}
	count := rd.uint32()
	embs := make([]embedding.Embedding, 0, count)
	for i := uint32(0); i < count; i++ {
		e := embedding.Embedding{AtomID: atom.ID(rd.uint64())}
		e.ModelID = string(rd.bytes(int(rd.uint16())))
		dim := rd.uint32()
		e.Vector = make([]float32, dim)
		for j := range e.Vector {
			e.Vector[j] = math.Float32frombits(rd.uint32())
		}
		e.Dimension = int(dim)
		embs = append(embs, e)
	}
	return embs, rd.finish()
}

func encodeEntries(entries []spatial.Entry) []byte {
	out := make([]byte, 0, 4+len(entries)*40)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = binary.LittleEndian.AppendUint64(out, uint64(e.AtomID))
		out = binary.LittleEndian.AppendUint64(out, e.Key)
		for _, v := range e.Coord {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	return out
}

func decodeEntries(data []byte) ([]spatial.Entry, error) {
	rd := byteReader{data: data}
	count := rd.uint32()
	entries := make([]spatial.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e := spatial.Entry{AtomID: atom.ID(rd.uint64()), Key: rd.uint64()}
		for j := range e.Coord {
			e.Coord[j] = math.Float64frombits(rd.uint64())
		}
		entries = append(entries, e)
	}
	return entries, rd.finish()
}

// byteReader is a cursor over a section payload. It remembers the first
// overrun instead of panicking so decoders stay linear.
type byteReader struct {
	data []byte
	off  int
	err  error
}

func (r *byteReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("section truncated at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *byteReader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *byteReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("%d trailing bytes in section", len(r.data)-r.off)
	}
	return nil
}
