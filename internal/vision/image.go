package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// norm is the per-channel (pixel - mean) / std applied before inference.
type norm struct {
	mean, std [3]float32
}

var (
	detectionNorm = norm{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{128, 128, 128}}
	embeddingNorm = norm{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{127.5, 127.5, 127.5}}
	rawNorm       = norm{std: [3]float32{1, 1, 1}}
)

// decodeImage decodes a JPEG or PNG payload.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// toCHW resizes img (nearest neighbour) to w x h and lays it out as
// normalised planar RGB.
func toCHW(img image.Image, w, h int, n norm) []float32 {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	if srcW == 0 || srcH == 0 {
		return out
	}

	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x*srcW/w, sy).RGBA()
			i := y*w + x
			out[i] = (float32(r>>8) - n.mean[0]) / n.std[0]
			out[plane+i] = (float32(g>>8) - n.mean[1]) / n.std[1]
			out[2*plane+i] = (float32(bl>>8) - n.mean[2]) / n.std[2]
		}
	}
	return out
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropFace cuts the box out of img with 10% padding on each side, clamped to
// the image. It returns nil for an empty box.
func cropFace(img image.Image, box [4]float32) image.Image {
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}

	padX, padY := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(img.Bounds())

	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			crop.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return crop
}
