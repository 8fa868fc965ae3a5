package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/dwell/internal/models"
)

// Detection is one face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Rect converts the box to the top/left/height/width form used in reports.
func (d Detection) Rect() models.Rect {
	x1, y1 := int(math.Round(float64(d.BBox[0]))), int(math.Round(float64(d.BBox[1])))
	x2, y2 := int(math.Round(float64(d.BBox[2]))), int(math.Round(float64(d.BBox[3])))
	return models.Rect{Top: y1, Left: x1, Height: y2 - y1, Width: x2 - x1}
}

// Detector runs RetinaFace (det_10g) face detection using ONNX Runtime.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32] // one per stride
	boxes     []*ort.Tensor[float32] // one per stride
	extra     []*ort.Tensor[float32] // landmark outputs, bound but unused
	threshold float32
	inputW    int
	inputH    int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

// det_10g output names per stride: scores, boxes, landmarks.
var detectorOutputs = [3][3]string{
	{"448", "451", "454"},
	{"471", "474", "477"},
	{"494", "497", "500"},
}

// NewDetector loads the RetinaFace model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: 640, inputH: 640}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var names []string
	var outputs []ort.Value
	for i, stride := range strides {
		anchors := int64((d.inputW / stride) * (d.inputH / stride) * anchorsPerStride)

		s, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, 1))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create score tensor (stride %d): %w", stride, err)
		}
		d.scores = append(d.scores, s)

		b, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, 4))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create box tensor (stride %d): %w", stride, err)
		}
		d.boxes = append(d.boxes, b)

		l, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, 10))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create landmark tensor (stride %d): %w", stride, err)
		}
		d.extra = append(d.extra, l)

		names = append(names, detectorOutputs[i][:]...)
		outputs = append(outputs, s, b, l)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.input}, outputs,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect finds faces in img. Results are sorted by confidence.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	b := img.Bounds()
	copy(d.input.GetData(), toCHW(img, d.inputW, d.inputH, detectionNorm))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(b.Dx(), b.Dy()), nmsIoU), nil
}

// decode turns anchor distances at every stride into boxes scaled back to
// the source image.
func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	sx := float32(origW) / float32(d.inputW)
	sy := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.scores[si].GetData()
		boxes := d.boxes[si].GetData()
		st := float32(stride)
		cols := d.inputW / stride

		for idx, score := range scores {
			if score < d.threshold {
				continue
			}
			cell := idx / anchorsPerStride
			ax := float32(cell%cols) * st
			ay := float32(cell/cols) * st

			out = append(out, Detection{
				BBox: [4]float32{
					clampF((ax-boxes[idx*4]*st)*sx, 0, float32(origW)),
					clampF((ay-boxes[idx*4+1]*st)*sy, 0, float32(origH)),
					clampF((ax+boxes[idx*4+2]*st)*sx, 0, float32(origW)),
					clampF((ay+boxes[idx*4+3]*st)*sy, 0, float32(origH)),
				},
				Confidence: score,
			})
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.boxes, d.extra} {
		for _, t := range group {
			t.Destroy()
		}
	}
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := dets[:0:0]
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	w := min(a[2], b[2]) - max(a[0], b[0])
	h := min(a[3], b[3]) - max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
