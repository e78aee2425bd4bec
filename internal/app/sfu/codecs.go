package sfu

import (
	"strings"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

// routerCodecs is what every router advertises; all are registered by
// webrtc.MediaEngine.RegisterDefaultCodecs.
var routerCodecs = []core.RTPCodec{
	{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
	{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0"},
	{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"},
}

func routerCapabilities() core.RTPCapabilities {
	return core.RTPCapabilities{Codecs: append([]core.RTPCodec(nil), routerCodecs...)}
}

// defaultCodec is assumed for a producer whose track has not arrived yet.
func defaultCodec(kind core.MediaKind) core.RTPCodec {
	want := webrtc.MimeTypeVP8
	if kind == core.KindAudio {
		want = webrtc.MimeTypeOpus
	}
	for _, c := range routerCodecs {
		if strings.EqualFold(c.MimeType, want) {
			return c
		}
	}
	return routerCodecs[0]
}

func toCapability(c core.RTPCodec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func fromCapability(c webrtc.RTPCodecCapability) core.RTPCodec {
	return core.RTPCodec{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func kindOf(k webrtc.RTPCodecType) core.MediaKind {
	if k == webrtc.RTPCodecTypeAudio {
		return core.KindAudio
	}
	return core.KindVideo
}
