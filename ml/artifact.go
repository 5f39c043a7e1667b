package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ArtifactFormat identifies pipeline artifact files.
const ArtifactFormat = "knowyourcar.pipeline"

type artifactEnvelope struct {
	Format        string          `json:"format"`
	SchemaVersion int             `json:"schema_version"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalPipeline encodes p as a zstd-compressed, checksummed envelope.
func MarshalPipeline(p *Pipeline) ([]byte, error) {
	if p == nil {
		return nil, errors.New("pipeline is nil")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	env, err := json.Marshal(artifactEnvelope{
		Format:        ArtifactFormat,
		SchemaVersion: p.SchemaVersion,
		Checksum:      checksum(payload),
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(env, nil), nil
}

// UnmarshalPipeline decodes an artifact. Anything that does not decode to
// a pipeline matching the compiled schema yields ErrArtifactCorrupt.
func UnmarshalPipeline(data []byte) (*Pipeline, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrArtifactCorrupt, err)
	}
	var env artifactEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrArtifactCorrupt, err)
	}
	if env.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrArtifactCorrupt, env.Format)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrArtifactCorrupt, env.SchemaVersion, SchemaVersion)
	}
	if checksum(env.Payload) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrArtifactCorrupt)
	}
	var p Pipeline
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrArtifactCorrupt, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	return &p, nil
}

// SavePipeline writes p to path through a temporary file and a rename, so
// a reader never observes a half-written artifact.
func SavePipeline(p *Pipeline, path string) error {
	if path == "" {
		return errors.New("artifact path is required")
	}
	data, err := MarshalPipeline(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadPipeline reads and decodes the artifact at path.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrArtifactMissing, path, err)
	}
	p, err := UnmarshalPipeline(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}

func checksum(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
