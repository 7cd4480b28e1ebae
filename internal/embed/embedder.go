// Package embed computes and stores chunk and file embeddings. The default
// provider is a deterministic SHA-256 placeholder: inspectable, stable, and
// dependency-free, with the same storage contract a real model would use.
package embed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Provider turns text into a float32 little-endian vector blob.
type Provider interface {
	Dim() int
	EmbedText(text string) ([]byte, error)
}

// SHA256Embedder derives each vector from SHA-256 digests of a 4-byte
// little-endian block counter followed by the UTF-8 text. Digest words are
// mapped to [-1, 1].
type SHA256Embedder struct {
	dim int
}

// NewSHA256Embedder creates a placeholder embedder of the given dimension.
func NewSHA256Embedder(dim int) (*SHA256Embedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embed: dim must be > 0, got %d", dim)
	}
	return &SHA256Embedder{dim: dim}, nil
}

func (e *SHA256Embedder) Dim() int { return e.dim }

func (e *SHA256Embedder) EmbedText(text string) ([]byte, error) {
	data := []byte(text)
	floats := make([]float32, 0, e.dim)
	var counter uint32
	for len(floats) < e.dim {
		h := sha256.New()
		var ctr [4]byte
		binary.LittleEndian.PutUint32(ctr[:], counter)
		h.Write(ctr[:])
		h.Write(data)
		digest := h.Sum(nil)
		for i := 0; i+4 <= len(digest) && len(floats) < e.dim; i += 4 {
			word := binary.LittleEndian.Uint32(digest[i : i+4])
			floats = append(floats, float32((float64(word)/float64(0xFFFFFFFF))*2.0-1.0))
		}
		counter++
	}
	return EncodeFloat32LE(floats), nil
}

// EncodeFloat32LE packs floats as little-endian float32 bytes.
func EncodeFloat32LE(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// DecodeFloat32LE unpacks a little-endian float32 blob of the given
// dimension.
func DecodeFloat32LE(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("embed: vector blob is %d bytes, want %d", len(blob), 4*dim)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// WeightedMean computes the weighted mean of float32 LE vector blobs.
// A nil weights slice means uniform weights.
func WeightedMean(vectors [][]byte, dim int, weights []float64) ([]byte, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed: cannot compute mean of empty vector list")
	}
	if weights != nil && len(weights) != len(vectors) {
		return nil, fmt.Errorf("embed: weights length %d does not match vectors length %d", len(weights), len(vectors))
	}

	accum := make([]float64, dim)
	var denom float64
	for idx, blob := range vectors {
		vals, err := DecodeFloat32LE(blob, dim)
		if err != nil {
			return nil, err
		}
		w := 1.0
		if weights != nil {
			w = weights[idx]
		}
		denom += w
		for j, v := range vals {
			accum[j] += float64(v) * w
		}
	}
	if denom == 0 {
		return nil, fmt.Errorf("embed: zero denominator in weighted mean")
	}

	out := make([]float32, dim)
	for j := range out {
		out[j] = float32(accum[j] / denom)
	}
	return EncodeFloat32LE(out), nil
}
