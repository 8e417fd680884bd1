package cloud

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/hrygo/fincue/ai/backend"
)

// prepareImage downsizes img so its longest side is at most maxDim and re-encodes it as JPEG.
func prepareImage(img backend.ImageInput, maxDim, quality int) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		src = imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
