package vision

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
)

// ProbeRTSP verifies that an RTSP URL is reachable, carries an H.264 video
// track, and actually delivers packets. It is used as a preflight check
// before the ffmpeg reader is started, so a permanently broken source is
// reported at open time.
func ProbeRTSP(rawURL string, timeout time.Duration) error {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("failed to describe stream: %w", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		return fmt.Errorf("H.264 format not found in stream")
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	var once sync.Once
	gotPacket := make(chan struct{})
	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		once.Do(func() { close(gotPacket) })
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("failed to play stream: %w", err)
	}

	select {
	case <-gotPacket:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("no RTP packets received within %s", timeout)
	}
}
