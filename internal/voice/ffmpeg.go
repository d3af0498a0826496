package voice

import (
	"fmt"
	"strings"
)

// ffmpegArgs builds an ffmpeg invocation that reads src, applies the gain and
// writes 48kHz stereo Opus in an Ogg container to stdout.
func ffmpegArgs(src string, volume float64) []string {
	args := []string{"-nostdin", "-loglevel", "error"}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_on_network_error", "1",
			"-reconnect_delay_max", "5",
			"-user_agent", "Mozilla/5.0",
		)
	}
	args = append(args,
		"-analyzeduration", "0",
		"-i", src,
		"-map", "0:a",
		"-vn",
		"-af", fmt.Sprintf("volume=%.2f", volume),
		"-ac", "2",
		"-ar", "48000",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-frame_duration", "20",
		"-application", "audio",
		"-f", "opus",
		"pipe:1",
	)
	return args
}
