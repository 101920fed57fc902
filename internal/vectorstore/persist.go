package vectorstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"refind/internal/models"
	"refind/internal/util"
)

// Binary layout of a .vec artifact: 16-byte header (magic, version, dim,
// count as little-endian uint32) followed by count*dim float32 values.
const (
	MagicBytes    uint32 = 0x52465658 // "RFVX"
	FormatVersion uint32 = 1
	headerSize           = 16
)

func vecPath(dir, name string) string {
	return filepath.Join(dir, name+".vec")
}

func metaPath(dir, name string) string {
	return filepath.Join(dir, name+"_metadata.json")
}

// Save writes the two companion artifacts for this index under dir, keyed by
// name. Both writes are atomic (temp file + rename).
func (x *Index) Save(dir, name string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	buf := make([]byte, headerSize+4*x.dim*len(x.vectors))
	binary.LittleEndian.PutUint32(buf[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(x.dim))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(x.vectors)))
	off := headerSize
	for _, vec := range x.vectors {
		for _, f := range vec {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
			off += 4
		}
	}

	if err := util.WriteBytesAtomic(vecPath(dir, name), buf); err != nil {
		return fmt.Errorf("save vector artifact %s: %w", name, err)
	}
	if err := util.WriteJSONAtomic(metaPath(dir, name), x.metadata); err != nil {
		return fmt.Errorf("save metadata artifact %s: %w", name, err)
	}
	return nil
}

// Load replaces the index contents from the companion artifacts under dir.
// Exactly one artifact present is an integrity violation; neither present is
// a not-found condition. A failed load leaves the receiver untouched.
func (x *Index) Load(dir, name string) error {
	vp, mp := vecPath(dir, name), metaPath(dir, name)
	vecExists, metaExists := fileExists(vp), fileExists(mp)
	switch {
	case !vecExists && !metaExists:
		return fmt.Errorf("%w: index %q", util.ErrNotFound, name)
	case vecExists != metaExists:
		return fmt.Errorf("%w: index %q has one of two artifacts", util.ErrIndexIntegrity, name)
	}

	raw, err := os.ReadFile(vp)
	if err != nil {
		return fmt.Errorf("read vector artifact %s: %w", name, err)
	}
	vectors, dim, err := decodeVectors(raw)
	if err != nil {
		return fmt.Errorf("index %q: %w", name, err)
	}

	var metadata []models.ChunkMeta
	if err := util.ReadJSON(mp, &metadata); err != nil {
		return fmt.Errorf("read metadata artifact %s: %w", name, err)
	}
	if len(metadata) != len(vectors) {
		return fmt.Errorf("%w: index %q has %d vectors but %d metadata records",
			util.ErrIndexIntegrity, name, len(vectors), len(metadata))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dim != 0 && x.dim != dim {
		return fmt.Errorf("%w: index %q dimension %d, instance requires %d",
			util.ErrIndexIntegrity, name, dim, x.dim)
	}
	x.dim = dim
	x.vectors = vectors
	x.metadata = metadata
	return nil
}

func decodeVectors(raw []byte) ([][]float32, int, error) {
	if len(raw) < headerSize {
		return nil, 0, fmt.Errorf("%w: truncated header", util.ErrIndexIntegrity)
	}
	if magic := binary.LittleEndian.Uint32(raw[0:4]); magic != MagicBytes {
		return nil, 0, fmt.Errorf("%w: bad magic %#x", util.ErrIndexIntegrity, magic)
	}
	if version := binary.LittleEndian.Uint32(raw[4:8]); version != FormatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", util.ErrIndexIntegrity, version)
	}
	dim := int(binary.LittleEndian.Uint32(raw[8:12]))
	count := int(binary.LittleEndian.Uint32(raw[12:16]))
	want := headerSize + 4*dim*count
	if dim <= 0 || count < 0 || len(raw) != want {
		return nil, 0, fmt.Errorf("%w: payload size %d, header implies %d", util.ErrIndexIntegrity, len(raw), want)
	}

	r := bytes.NewReader(raw[headerSize:])
	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, 0, fmt.Errorf("%w: decode vector %d: %v", util.ErrIndexIntegrity, i, err)
		}
		vectors[i] = vec
	}
	return vectors, dim, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
