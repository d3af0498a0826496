package voice

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

// oggPage builds a minimal Ogg page carrying the given segment table and payload.
func oggPage(segments []byte, payload []byte) []byte {
	header := make([]byte, oggPageHeaderSize)
	copy(header, "OggS")
	header[26] = byte(len(segments))
	page := append(header, segments...)
	return append(page, payload...)
}

func packetPage(packets ...[]byte) []byte {
	var segments []byte
	var payload []byte
	for _, packet := range packets {
		size := len(packet)
		for size >= 255 {
			segments = append(segments, 255)
			size -= 255
		}
		segments = append(segments, byte(size))
		payload = append(payload, packet...)
	}
	return oggPage(segments, payload)
}

func TestOggReaderSkipsHeaders(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(packetPage([]byte("OpusHead\x01\x02\x38\x01")))
	stream.Write(packetPage([]byte("OpusTags-vendor")))
	stream.Write(packetPage([]byte{1, 2, 3}, []byte{4, 5}))
	stream.Write(packetPage(bytes.Repeat([]byte{9}, 300)))

	reader := newOggReader(&stream)
	var packets [][]byte
	for {
		packet, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		packets = append(packets, packet)
	}

	if len(packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(packets))
	}
	if !bytes.Equal(packets[0], []byte{1, 2, 3}) || !bytes.Equal(packets[1], []byte{4, 5}) {
		t.Fatalf("unexpected packets %v", packets[:2])
	}
	if len(packets[2]) != 300 {
		t.Fatalf("expected a 300 byte packet spanning segments, got %d", len(packets[2]))
	}
}

func TestOggReaderResyncsAfterGarbage(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("garbage")
	stream.Write(packetPage([]byte("OpusHead\x01")))
	stream.Write(packetPage([]byte{7}))

	packet, err := newOggReader(&stream).Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(packet, []byte{7}) {
		t.Fatalf("unexpected packet %v", packet)
	}
}

func TestOggReaderRejectsNonOpus(t *testing.T) {
	stream := bytes.NewReader(packetPage([]byte("\x01vorbis")))
	if _, err := newOggReader(stream).Next(); !errors.Is(err, errNotOpus) {
		t.Fatalf("expected errNotOpus, got %v", err)
	}
}

func TestOggReaderTruncatedStreamIsEOF(t *testing.T) {
	page := packetPage([]byte("OpusHead\x01"))
	stream := bytes.NewReader(append(page, []byte("OggS\x00\x00")...))
	if _, err := newOggReader(stream).Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs("https://cdn.example/audio", 0.5), " ")
	for _, want := range []string{"-reconnect 1", "-i https://cdn.example/audio", "-af volume=0.50", "-f opus pipe:1", "-ar 48000"} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}

	local := strings.Join(ffmpegArgs("/tmp/file.webm", 1), " ")
	if strings.Contains(local, "-reconnect") {
		t.Fatalf("local input should not use reconnect flags: %q", local)
	}
}
