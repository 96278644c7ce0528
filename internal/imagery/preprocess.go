// Package imagery decodes stored image bytes and turns them into the
// fixed-size input tensors the classifier networks consume.
package imagery

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/nfnt/resize"
)

// Input geometry of the reference preprocessing contract.
const (
	InputWidth  = 224
	InputHeight = 224
	InputDepth  = 3
)

// Per-channel means subtracted before channel swap (ImageNet RGB means).
const (
	MeanR = 123.68
	MeanG = 116.779
	MeanB = 103.939
)

// Tensor is a dense float32 tensor in NCHW layout.
type Tensor struct {
	Data  []float32
	Shape [4]int // batch, channels, height, width
}

// NewInputTensor allocates a zeroed (1, 3, 224, 224) tensor.
func NewInputTensor() *Tensor {
	return &Tensor{
		Data:  make([]float32, InputDepth*InputHeight*InputWidth),
		Shape: [4]int{1, InputDepth, InputHeight, InputWidth},
	}
}

// Len returns the number of elements in the tensor.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// At returns the value at (channel, y, x) of the single batch entry.
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[c*InputHeight*InputWidth+y*InputWidth+x]
}

// Preprocess converts raw image bytes into the reference network input:
// decode to RGB, resize to 224x224, subtract per-channel means, reorder
// RGB to BGR, lay out channel-first with a leading batch dimension of 1.
// The numeric recipe is fixed; architectures declaring compatibility with
// it rely on bit-for-bit identical output.
func Preprocess(imageBytes []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, errors.Newf("failed to decode image: %w", err).
			Category(errors.CategoryImageDecode).
			Component("imagery").
			Context("bytes", len(imageBytes)).
			Build()
	}

	resized := resize.Resize(InputWidth, InputHeight, img, resize.Bilinear)

	tensor := NewInputTensor()
	bounds := resized.Bounds()

	const plane = InputHeight * InputWidth
	for y := 0; y < InputHeight; y++ {
		for x := 0; x < InputWidth; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA returns 16-bit values, scale down to 8-bit
			rf := float32(r>>8) - MeanR
			gf := float32(g>>8) - MeanG
			bf := float32(b>>8) - MeanB

			// BGR channel order, channel-first layout
			idx := y*InputWidth + x
			tensor.Data[0*plane+idx] = bf
			tensor.Data[1*plane+idx] = gf
			tensor.Data[2*plane+idx] = rf
		}
	}

	return tensor, nil
}

// PreprocessBatch preprocesses several images, failing on the first bad one.
func PreprocessBatch(images [][]byte) ([]*Tensor, error) {
	tensors := make([]*Tensor, 0, len(images))
	for i, raw := range images {
		tensor, err := Preprocess(raw)
		if err != nil {
			return nil, errors.Newf("image %d of %d: %w", i+1, len(images), err).
				Category(errors.CategoryImageDecode).
				Component("imagery").
				Build()
		}
		tensors = append(tensors, tensor)
	}
	return tensors, nil
}
