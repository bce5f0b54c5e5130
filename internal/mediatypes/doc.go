// Package mediatypes holds the primitive types shared by every stage of the
// media pipeline: media kinds, operations, output formats and the
// ProcessResult returned by transforms.
//
// It has no dependencies beyond the standard library so that the probe,
// transform, orchestrator and HTTP packages can all import it without
// creating cycles.
//
// # Media kinds
//
// Use KindFromPath to classify a file by extension:
//
//	kind := mediatypes.KindFromPath("clip.MOV") // mediatypes.KindVideo
//
// # Operations
//
// Operations are valid only for some kinds; Supports reports the matrix:
//
//	mediatypes.Supports(mediatypes.KindAudio, mediatypes.OpNormalize) // true
//	mediatypes.Supports(mediatypes.KindImage, mediatypes.OpTrim)      // false
package mediatypes
