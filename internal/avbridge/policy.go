package avbridge

import "github.com/relaycast/rtmpcore/internal/chunk"

// burstParams is one track's preroll window selector: exactly one of
// grposRange/frames is normally non-zero, plus an optional flagMask anchor.
type burstParams struct {
	grposRange int64
	frames     int
	flagMask   int
}

// DefaultBurstPolicy picks each track's play()-time preroll window: an
// H.264-frame-count window when the stored metadata says videocodecid ==
// "avc1" (since counting keyframes matters more than wall-clock distance for
// H.264), otherwise a grpos-range window capped by both the policy default
// and the peer's announced NetStream.buffer_length. Grounded on
// controllers.py's DefaultBurstPolicy.
type DefaultBurstPolicy struct {
	GrposRange int64
	H264Frames int
}

// NewDefaultBurstPolicy returns a policy with twimp's defaults (3000ms / 64
// frames).
func NewDefaultBurstPolicy() *DefaultBurstPolicy {
	return &DefaultBurstPolicy{GrposRange: 3000, H264Frames: 64}
}

// Choose returns the per-track burst params for trackTypes, given the
// group's stored metadata and the peer's announced buffer length, plus
// whether the writer should rewrite timestamps and whether it should emit
// info markers (Choose always returns false for both).
func (p *DefaultBurstPolicy) Choose(meta map[string]string, trackTypes []chunk.Category, bufferLengthMS uint32) (map[chunk.Category]burstParams, bool, bool) {
	rewrite, useMarks := false, false

	if meta != nil && meta["videocodecid"] == "avc1" {
		params := map[chunk.Category]burstParams{
			chunk.CategoryVideo: {frames: p.H264Frames},
			chunk.CategoryAudio: {},
		}
		return selectFor(params, trackTypes), rewrite, useMarks
	}

	gpRange := p.GrposRange
	if int64(bufferLengthMS) < gpRange {
		gpRange = int64(bufferLengthMS)
	}
	params := map[chunk.Category]burstParams{
		chunk.CategoryVideo: {grposRange: gpRange},
		chunk.CategoryAudio: {grposRange: gpRange},
	}
	return selectFor(params, trackTypes), rewrite, useMarks
}

func selectFor(params map[chunk.Category]burstParams, trackTypes []chunk.Category) map[chunk.Category]burstParams {
	out := make(map[chunk.Category]burstParams, len(trackTypes))
	for _, t := range trackTypes {
		out[t] = params[t]
	}
	return out
}

// cacheParams is one track's live-cache retention policy, consumed by
// store.LiveMediaStream.SetBuffering; a zero frames value with a non-zero
// grposRange (or vice versa) matches twimp's None-means-"not this selector".
type cacheParams struct {
	grposRange int64
	frames     int
	flagMask   int
}

// DefaultCachePolicy picks each published track's retention window: an
// H.264-frame-count window (tuned the same way the burst policy is) when the
// metadata says videocodecid == "avc1", otherwise a plain grpos-range
// window. Grounded on controllers.py's DefaultCachePolicy.
type DefaultCachePolicy struct {
	GrposRange int64
	H264Frames int
}

// NewDefaultCachePolicy returns a policy with twimp's defaults (3000ms / 64
// frames).
func NewDefaultCachePolicy() *DefaultCachePolicy {
	return &DefaultCachePolicy{GrposRange: 3000, H264Frames: 64}
}

// Choose returns the per-track retention params for trackTypes given the
// stream's stored metadata.
func (p *DefaultCachePolicy) Choose(meta map[string]string, trackTypes []chunk.Category) map[chunk.Category]cacheParams {
	if meta != nil && meta["videocodecid"] == "avc1" {
		params := map[chunk.Category]cacheParams{
			chunk.CategoryVideo: {frames: p.H264Frames},
			chunk.CategoryAudio: {},
		}
		return selectCacheFor(params, trackTypes)
	}
	params := map[chunk.Category]cacheParams{
		chunk.CategoryVideo: {grposRange: p.GrposRange},
		chunk.CategoryAudio: {grposRange: p.GrposRange},
	}
	return selectCacheFor(params, trackTypes)
}

func selectCacheFor(params map[chunk.Category]cacheParams, trackTypes []chunk.Category) map[chunk.Category]cacheParams {
	out := make(map[chunk.Category]cacheParams, len(trackTypes))
	for _, t := range trackTypes {
		out[t] = params[t]
	}
	return out
}
