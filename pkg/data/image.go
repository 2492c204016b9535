package data

import (
	"fmt"

	"github.com/IRCAD/sight-sub083/pkg/com"
)

// ClassImage is the class name of Image.
const ClassImage = "data::Image"

// Size is the extent of an image in voxels.
type Size [3]int

// Voxels returns the number of voxels.
func (s Size) Voxels() int {
	return s[0] * s[1] * s[2]
}

// Spacing is the voxel size along each axis.
type Spacing [3]float64

// Image is a 3D image backed by a pixel buffer.
type Image struct {
	*Base

	size          Size
	spacing       Spacing
	origin        [3]float64
	bytesPerVoxel int
	buffer        *Buffer

	bufferModified *com.Signal[com.Empty]
}

// NewImage creates an empty image with unit spacing.
func NewImage() *Image {
	img := &Image{
		Base:    NewBase(ClassImage),
		spacing: Spacing{1, 1, 1},
		buffer:  NewBuffer(0),
	}
	img.bufferModified = com.AddSignal[com.Empty](img.Signals(), SignalBufferModified)
	return img
}

// BufferModified returns the "buffer_modified" signal.
func (img *Image) BufferModified() *com.Signal[com.Empty] { return img.bufferModified }

// Resize sets the image extent and reallocates the pixel buffer.
func (img *Image) Resize(size Size, bytesPerVoxel int) error {
	if bytesPerVoxel <= 0 {
		return fmt.Errorf("invalid bytes per voxel: %d", bytesPerVoxel)
	}
	for _, n := range size {
		if n < 0 {
			return fmt.Errorf("invalid image size: %v", size)
		}
	}
	img.Lock()
	defer img.Unlock()
	img.size = size
	img.bytesPerVoxel = bytesPerVoxel
	img.buffer.Resize(size.Voxels() * bytesPerVoxel)
	return nil
}

// Size returns the image extent.
func (img *Image) Size() Size {
	img.RLock()
	defer img.RUnlock()
	return img.size
}

// Spacing returns the voxel spacing.
func (img *Image) Spacing() Spacing {
	img.RLock()
	defer img.RUnlock()
	return img.spacing
}

// SetSpacing sets the voxel spacing.
func (img *Image) SetSpacing(s Spacing) {
	img.Lock()
	img.spacing = s
	img.Unlock()
}

// SetOrigin sets the image origin.
func (img *Image) SetOrigin(o [3]float64) {
	img.Lock()
	img.origin = o
	img.Unlock()
}

// Buffer returns the pixel buffer.
func (img *Image) Buffer() *Buffer {
	return img.buffer
}

// Properties lists the geometry and the pixel buffer.
func (img *Image) Properties() []Property {
	return []Property{
		Scalar("size", img.size),
		Scalar("spacing", img.spacing),
		Scalar("origin", img.origin),
		Scalar("bytes_per_voxel", img.bytesPerVoxel),
		BufferRef("buffer", img.buffer),
	}
}
