// Package attachment turns inline file payloads into stored blobs.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
	"github.com/rs/zerolog"
)

var (
	ErrDecode   = errors.New("attachment decode failed")
	ErrTooLarge = errors.New("attachment too large")
)

// Ingestor decodes attachments and writes them to a blob store.
type Ingestor struct {
	blobs    store.BlobStore
	maxBytes int64
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates an ingestor. maxBytes <= 0 disables the size limit.
func New(blobs store.BlobStore, maxBytes int64, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		blobs:    blobs,
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger.With().Str("component", "attachment").Logger(),
	}
}

// Ingest stores the payload and returns its file reference.
func (i *Ingestor) Ingest(ctx context.Context, p types.FilePayload) (string, error) {
	data, err := decode(p.Data)
	if err != nil {
		return "", err
	}
	if i.maxBytes > 0 && int64(len(data)) > i.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	mt := mimetype.Detect(data)
	name := i.storageName(extension(p.Name, mt))

	ref, err := i.blobs.Put(ctx, name, data)
	if err != nil {
		return "", err
	}
	i.logger.Debug().
		Str("file", ref).
		Str("mime", mt.String()).
		Int("bytes", len(data)).
		Msg("attachment stored")
	return ref, nil
}

// storageName is "<unix-millis>-<uuid><ext>"; the uuid keeps concurrent
// uploads in the same millisecond apart.
func (i *Ingestor) storageName(ext string) string {
	return fmt.Sprintf("%d-%s%s", i.now().UnixMilli(), uuid.New().String(), ext)
}

// decode accepts a data URL ("data:image/png;base64,....") or bare base64.
func decode(body string) ([]byte, error) {
	if strings.HasPrefix(body, "data:") {
		idx := strings.IndexByte(body, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: data url without body", ErrDecode)
		}
		body = body[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrDecode)
	}
	return data, nil
}

// extension keeps the suggested name's extension, falling back to the one
// of the sniffed content type.
func extension(name string, mt *mimetype.MIME) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "." || !clean(ext) {
		ext = ""
	}
	if ext == "" && mt != nil {
		ext = mt.Extension()
	}
	return ext
}

func clean(ext string) bool {
	for _, r := range strings.TrimPrefix(ext, ".") {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
