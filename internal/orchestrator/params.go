package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"media-pipeline/internal/mediatypes"
)

// Params is the operation-specific part of a Request. The set of
// implementations is closed: Resize, Crop, Rotate, Convert, Optimize, Trim
// and Normalize.
type Params interface {
	Operation() mediatypes.Operation
	isParams()
}

// Resize bounds the output. For images both edges are required; for video
// either may be zero to leave that axis free.
type Resize struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Fit    string `json:"fit,omitempty"`
}

// Crop cuts a region out of an image, in source pixels.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rotate turns an image clockwise.
type Rotate struct {
	Degrees float64 `json:"degrees"`
}

// Convert re-encodes into Request.OutputFormat. Codec applies to video;
// AudioBitrateKbps to audio and to the audio track of a video.
type Convert struct {
	Codec            string `json:"codec,omitempty"`
	AudioBitrateKbps int    `json:"audioBitrateKbps,omitempty"`
}

// Optimize re-encodes for size without changing geometry, except where the
// encoding plan caps resolution.
type Optimize struct{}

// Trim keeps Duration seconds starting at Start.
type Trim struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Normalize applies loudness normalisation to audio.
type Normalize struct{}

func (Resize) Operation() mediatypes.Operation    { return mediatypes.OpResize }
func (Crop) Operation() mediatypes.Operation      { return mediatypes.OpCrop }
func (Rotate) Operation() mediatypes.Operation    { return mediatypes.OpRotate }
func (Convert) Operation() mediatypes.Operation   { return mediatypes.OpConvert }
func (Optimize) Operation() mediatypes.Operation  { return mediatypes.OpOptimize }
func (Trim) Operation() mediatypes.Operation      { return mediatypes.OpTrim }
func (Normalize) Operation() mediatypes.Operation { return mediatypes.OpNormalize }

func (Resize) isParams()    {}
func (Crop) isParams()      {}
func (Rotate) isParams()    {}
func (Convert) isParams()   {}
func (Optimize) isParams()  {}
func (Trim) isParams()      {}
func (Normalize) isParams() {}

// DecodeParams builds the Params variant named by op from its JSON body.
// Unknown fields are rejected so a misspelt parameter is not silently
// ignored.
func DecodeParams(op mediatypes.Operation, raw json.RawMessage) (Params, error) {
	var p Params
	switch op {
	case mediatypes.OpResize:
		var v Resize
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case mediatypes.OpCrop:
		var v Crop
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case mediatypes.OpRotate:
		var v Rotate
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case mediatypes.OpConvert:
		var v Convert
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case mediatypes.OpOptimize:
		p = Optimize{}
	case mediatypes.OpTrim:
		var v Trim
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case mediatypes.OpNormalize:
		p = Normalize{}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
