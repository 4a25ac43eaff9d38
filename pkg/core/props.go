package core

import (
	"fmt"
	"math/big"
	"mime"
	"slices"
	"strings"
	"time"
)

const (
	MediaTypeVideo       = "video"
	MediaTypeAudio       = "audio"
	MediaTypeText        = "text"
	MediaTypeApplication = "application"
)

// PayloadDetails - per-payload detail block
type PayloadDetails struct {
	Width                     int     `json:"width,omitempty"`
	Height                    int     `json:"height,omitempty"`
	NumChannels               int     `json:"num_channels,omitempty"`
	SamplesPerFrame           int     `json:"samples_per_frame,omitempty"`
	ConstantBitrate           int     `json:"constant_bitrate,omitempty"`
	CodecConfigurationData    []byte  `json:"codec_configuration_data,omitempty"`
	SequenceDurationInSeconds float64 `json:"sequence_duration_in_seconds,omitempty"`
}

// BufferProperties - payload descriptor of a BufferSlice.
// Sample duration is SampleDurationNumerator / SampleRate seconds, so any
// rational duration is representable without floating point.
type BufferProperties struct {
	MimeType                string         `json:"mime_type,omitempty"` // video/mp4; codecs="avc1.64001f"
	SampleRate              uint32         `json:"sample_rate,omitempty"`
	SampleDurationNumerator uint32         `json:"sample_duration_numerator,omitempty"`
	SampleDepth             uint16         `json:"sample_depth,omitempty"`
	SamplesCount            uint32         `json:"samples_count,omitempty"`
	Codec                   string         `json:"codec,omitempty"`
	IsBitstreamHeader       bool           `json:"is_bitstream_header,omitempty"`
	IsKeyframe              bool           `json:"is_keyframe,omitempty"`
	Details                 PayloadDetails `json:"details"`
	Tags                    []string       `json:"tags,omitempty"`
}

func NewBufferProperties(mimeType string, sampleDurationNumerator, sampleRate uint32) *BufferProperties {
	return &BufferProperties{
		MimeType:                mimeType,
		SampleDurationNumerator: sampleDurationNumerator,
		SampleRate:              sampleRate,
	}
}

// SampleDuration - zero when the sample rate is unknown
func (p *BufferProperties) SampleDuration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(uint64(p.SampleDurationNumerator) * uint64(time.Second) / uint64(p.SampleRate))
}

// SampleDurationRatio - exact duration in seconds, nil when the sample rate is unknown
func (p *BufferProperties) SampleDurationRatio() *big.Rat {
	if p.SampleRate == 0 {
		return nil
	}
	return big.NewRat(int64(p.SampleDurationNumerator), int64(p.SampleRate))
}

// TotalDuration - SamplesCount * SampleDuration, computed without overflow
func (p *BufferProperties) TotalDuration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	d := new(big.Int).SetUint64(uint64(p.SamplesCount))
	d.Mul(d, new(big.Int).SetUint64(uint64(p.SampleDurationNumerator)))
	d.Mul(d, big.NewInt(int64(time.Second)))
	d.Quo(d, new(big.Int).SetUint64(uint64(p.SampleRate)))
	return time.Duration(d.Int64())
}

// MediaType - "video" for "video/mp4; codecs=..."
func (p *BufferProperties) MediaType() string {
	typ := p.MimeType
	if i := strings.IndexAny(typ, "/;"); i >= 0 {
		typ = typ[:i]
	}
	return strings.ToLower(strings.TrimSpace(typ))
}

// MimeCodecs - values of the codecs parameter
func (p *BufferProperties) MimeCodecs() []string {
	_, params, err := mime.ParseMediaType(p.MimeType)
	if err != nil || params["codecs"] == "" {
		return nil
	}
	var codecs []string
	for _, codec := range strings.Split(params["codecs"], ",") {
		if codec = strings.TrimSpace(codec); codec != "" {
			codecs = append(codecs, codec)
		}
	}
	return codecs
}

func (p *BufferProperties) IsVideo() bool {
	return p.MediaType() == MediaTypeVideo
}

func (p *BufferProperties) IsAudio() bool {
	return p.MediaType() == MediaTypeAudio
}

func (p *BufferProperties) IsText() bool {
	return p.MediaType() == MediaTypeText
}

func (p *BufferProperties) AddTag(tag string) {
	if !p.HasTag(tag) {
		p.Tags = append(p.Tags, tag)
	}
}

func (p *BufferProperties) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

func (p *BufferProperties) RemoveTag(tag string) {
	if i := slices.Index(p.Tags, tag); i >= 0 {
		p.Tags = slices.Delete(p.Tags, i, i+1)
	}
}

// Clone - deep copy, nothing is shared with the original
func (p *BufferProperties) Clone() *BufferProperties {
	clone := *p
	clone.Details.CodecConfigurationData = slices.Clone(p.Details.CodecConfigurationData)
	clone.Tags = slices.Clone(p.Tags)
	return &clone
}

func (p *BufferProperties) String() string {
	if p == nil {
		return "<nil>"
	}
	s := p.MimeType
	if s == "" {
		s = "*"
	}
	if p.SampleRate != 0 {
		s += fmt.Sprintf(", rate=%d, duration=%d", p.SampleRate, p.SampleDurationNumerator)
	}
	if p.IsKeyframe {
		s += ", keyframe"
	}
	return s
}
