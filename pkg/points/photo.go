package points

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPhotoBytes caps an inline photo. Snapshots embed photos, so every
// byte is rewritten on each mutation.
const DefaultMaxPhotoBytes int64 = 8 << 20

// ReadPhoto reads an uploaded image and returns it as an inline data URL.
// Empty input, oversized input, a payload that is not an image or a read
// failure all return an error wrapping ErrPhotoRead; callers create the point
// without a photo in that case.
func ReadPhoto(ctx context.Context, r io.Reader, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPhotoBytes
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPhotoRead, err)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPhotoRead, err)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: larger than %s", ErrPhotoRead, humanize.IBytes(uint64(maxBytes)))
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrPhotoRead)
	}
	mime := photoType(data)
	if mime == "" {
		return "", fmt.Errorf("%w: not an image (%s)", ErrPhotoRead, http.DetectContentType(data))
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// heifBrands maps ISO-BMFF major brands to the image type they carry. Phone
// cameras write HEIC, which no Go decoder reads.
var heifBrands = map[string]string{
	"heic": "image/heic", "heix": "image/heic", "heim": "image/heic", "heis": "image/heic",
	"hevc": "image/heic-sequence", "hevx": "image/heic-sequence",
	"mif1": "image/heif", "msf1": "image/heif-sequence",
	"avif": "image/avif", "avis": "image/avif",
}

// photoType returns the MIME type of an image payload, or "" when data is not
// an image. Formats with a registered decoder are identified by it; anything
// else is accepted when content sniffing says image/* or the file is a
// HEIF/AVIF container. The payload is stored as is, never re-encoded.
func photoType(data []byte) string {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return "image/" + format
	}
	if mime := http.DetectContentType(data); strings.HasPrefix(mime, "image/") {
		return mime
	}
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		return heifBrands[string(data[8:12])]
	}
	return ""
}
