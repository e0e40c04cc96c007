package archive

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CompressedBackend wraps another backend and compresses payloads in
// transit. Keys are unchanged; only contents are transformed.
type CompressedBackend struct {
	backend     Backend
	compression string
}

func NewCompressedBackend(backend Backend, compression string) *CompressedBackend {
	return &CompressedBackend{
		backend:     backend,
		compression: compression,
	}
}

func (c *CompressedBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if c.compression == "" {
		return c.backend.Put(ctx, key, r, size)
	}

	pr, pw := io.Pipe()

	go func() {
		var err error
		switch c.compression {
		case "gzip":
			err = compressGzip(pw, r)
		case "zstd":
			err = compressZstd(pw, r)
		default:
			err = fmt.Errorf("unsupported compression type: %s", c.compression)
		}
		pw.CloseWithError(err)
	}()

	return c.backend.Put(ctx, key, pr, -1)
}

func (c *CompressedBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if c.compression == "" {
		return rc, nil
	}

	pr, pw := io.Pipe()

	go func() {
		var err error
		switch c.compression {
		case "gzip":
			err = decompressGzip(pw, rc)
		case "zstd":
			err = decompressZstd(pw, rc)
		default:
			err = fmt.Errorf("unsupported compression type: %s", c.compression)
		}
		rc.Close()
		pw.CloseWithError(err)
	}()

	return pr, nil
}

func (c *CompressedBackend) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

func (c *CompressedBackend) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return c.backend.Sweep(ctx, cutoff)
}

func compressGzip(w io.Writer, r io.Reader) error {
	gw := gzip.NewWriter(w)
	defer gw.Close()

	_, err := io.Copy(gw, r)
	return err
}

func decompressGzip(w io.Writer, r io.Reader) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()

	_, err = io.Copy(w, gr)
	return err
}

func compressZstd(w io.Writer, r io.Reader) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	defer zw.Close()

	_, err = io.Copy(zw, r)
	return err
}

func decompressZstd(w io.Writer, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	_, err = io.Copy(w, zr)
	return err
}
