package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// snapshotVersion is bumped on incompatible snapshot layout changes. An
// unknown version is treated like a corrupt snapshot and triggers a
// rebuild.
const snapshotVersion = 1

// zstdMagic is the zstd frame header, used to accept both compressed and
// uncompressed snapshots on load.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// snapshot is the persisted form of the catalog. Only clean records are
// ever written: snapshots are saved at commit and rollback, after staged
// states have been resolved.
type snapshot struct {
	Version int       `cbor:"version"`
	Records []*Record `cbor:"records"`
}

// encMode encodes snapshots deterministically: the same catalog state
// always produces identical bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("catalog: CBOR encoder initialization failed: " + err.Error())
	}
}

// snapshotPath returns the snapshot file location: inside the root
// directory, named after the root's base name.
func (c *Catalog) snapshotPath() string {
	base := filepath.Base(filepath.Clean(c.root))
	return filepath.Join(c.root, base+".catalog")
}

func (c *Catalog) saveSnapshot() error {
	snap := snapshot{Version: snapshotVersion}
	for _, path := range c.livePaths() {
		snap.Records = append(snap.Records, c.records[path])
	}
	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if c.compress {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return fmt.Errorf("failed to create snapshot compressor: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("failed to compress snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress snapshot: %w", err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(c.snapshotPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (c *Catalog) loadSnapshot() error {
	data, err := os.ReadFile(c.snapshotPath())
	if err != nil {
		return err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("failed to open snapshot decompressor: %w", err)
		}
		defer zr.Close()
		data, err = zr.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress snapshot: %w", err)
		}
	}
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	c.records = make(map[string]*Record, len(snap.Records))
	for _, rec := range snap.Records {
		rec.Status = StatusClean
		rec.NumberOfFrames = -1
		c.records[rec.Path] = rec
	}
	return nil
}
