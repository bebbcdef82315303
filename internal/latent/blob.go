package latent

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	capnp "zombiezen.com/go/capnproto2"

	motionv1 "github.com/nmxmxh/marionette/gen/motion/v1"
)

// DiskKey derives the filename stem for a fingerprint: hex SHA-256 of the
// canonical JSON.
func DiskKey(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// EncodeBlob serializes a context as a brotli-compressed capnp ContextBlob.
func EncodeBlob(ctx *Context, createdAt time.Time) ([]byte, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, fmt.Errorf("allocate blob message: %w", err)
	}
	blob, err := motionv1.NewRootContextBlob(seg)
	if err != nil {
		return nil, fmt.Errorf("allocate blob root: %w", err)
	}

	blob.SetDim(uint32(len(ctx.Values)))
	blob.SetCreatedAtNs(createdAt.UnixNano())
	if err := blob.SetFingerprint(ctx.Fingerprint); err != nil {
		return nil, err
	}
	values, err := blob.NewValues(int32(len(ctx.Values)))
	if err != nil {
		return nil, err
	}
	for i, v := range ctx.Values {
		values.Set(i, v)
	}

	raw, err := msg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal blob: %w", err)
	}

	var buf bytes.Buffer
	bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := bw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBlob parses a brotli-compressed capnp ContextBlob.
func DecodeBlob(data []byte) (*Context, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	msg, err := capnp.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal blob: %w", err)
	}
	blob, err := motionv1.ReadRootContextBlob(msg)
	if err != nil {
		return nil, fmt.Errorf("read blob root: %w", err)
	}

	fingerprint, err := blob.Fingerprint()
	if err != nil {
		return nil, err
	}
	values, err := blob.Values()
	if err != nil {
		return nil, err
	}
	dim := int(blob.Dim())
	if values.Len() != dim {
		return nil, fmt.Errorf("blob dim %d with %d values", dim, values.Len())
	}

	out := make([]float32, dim)
	for i := range out {
		out[i] = values.At(i)
	}
	return &Context{Values: out, Fingerprint: fingerprint}, nil
}
