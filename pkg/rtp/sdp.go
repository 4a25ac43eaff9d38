// Package rtp turns RTP streams into core packets
package rtp

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/mflow/mflow/pkg/core"
	"github.com/pion/sdp/v3"
)

// DescriptorFromSDP - one payload per media format of the session
func DescriptorFromSDP(b []byte) (*core.SocketDescriptor, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(b); err != nil {
		return nil, err
	}

	desc := &core.SocketDescriptor{}
	for _, md := range sd.MediaDescriptions {
		for _, format := range md.MediaName.Formats {
			desc.Payloads = append(desc.Payloads, PayloadFromMedia(md, format))
		}
	}
	return desc, nil
}

// PayloadFromMedia - props for one payload type of the media description
func PayloadFromMedia(md *sdp.MediaDescription, payloadType string) *core.BufferProperties {
	var name, fmtp string
	var clockRate uint32
	var channels int

	for _, attr := range md.Attributes {
		switch {
		case name == "" && attr.Key == "rtpmap" && strings.HasPrefix(attr.Value, payloadType+" "):
			ss := strings.Split(attr.Value[len(payloadType)+1:], "/")
			name = strings.ToUpper(ss[0])
			if len(ss) > 1 {
				// fix tailing space: `a=rtpmap:96 H264/90000 `
				clockRate = uint32(atoi(strings.TrimRightFunc(ss[1], unicode.IsSpace)))
			}
			if len(ss) == 3 {
				channels = atoi(ss[2])
			}
		case fmtp == "" && attr.Key == "fmtp" && strings.HasPrefix(attr.Value, payloadType+" "):
			fmtp = attr.Value[len(payloadType)+1:]
		}
	}

	if name == "" {
		name, clockRate, channels = staticPayload(payloadType)
	}

	props := &core.BufferProperties{
		MimeType:   md.MediaName.Media + "/" + name,
		SampleRate: clockRate,
		Codec:      strings.ToLower(name),
	}
	props.Details.NumChannels = channels
	props.AddTag("pt:" + payloadType)
	if fmtp != "" {
		props.AddTag("fmtp:" + fmtp)
	}
	return props
}

// staticPayload - https://en.wikipedia.org/wiki/RTP_payload_formats
func staticPayload(payloadType string) (name string, clockRate uint32, channels int) {
	switch payloadType {
	case "0":
		return "PCMU", 8000, 1
	case "8":
		return "PCMA", 8000, 1
	case "10":
		return "L16", 44100, 2
	case "11":
		return "L16", 44100, 1
	case "14":
		return "MPA", 90000, 0 // it's not real sample rate
	case "26":
		return "JPEG", 90000, 0
	}
	return payloadType, 0, 0
}

func atoi(s string) (i int) {
	i, _ = strconv.Atoi(s)
	return
}
