// Package media transforms still images.
//
// ImageTransform decodes a source, applies geometry (crop, rotate, fit into a
// bounding box that is never exceeded and never enlarged), optional filters
// (grayscale, blur, sharpen) and an image watermark, then encodes the result
// as webp, jpeg, png or avif.
//
// Pixel work is done with github.com/disintegration/imaging. Encoding goes
// through libvips (govips) when InitVips has succeeded; without libvips, jpeg
// and png are still produced by imaging while webp and avif fail with an
// encode error.
package media
