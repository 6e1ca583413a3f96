package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"transcription-stream-service/internal/models"
)

// MinWAVSize is the size of the smallest canonical RIFF/WAVE header.
const MinWAVSize = 44

// WAVE format codes accepted in the fmt chunk.
const (
	wavFormatPCM        uint16 = 1
	wavFormatALaw       uint16 = 6
	wavFormatMuLaw      uint16 = 7
	wavFormatExtensible uint16 = 0xFFFE
)

// ErrInvalidWAV is returned for truncated or malformed WAV payloads.
var ErrInvalidWAV = errors.New("invalid WAV file")

// WAVHeader is the parsed fmt and data chunk information of a WAV payload.
type WAVHeader struct {
	Format        models.AudioFormat
	FormatCode    uint16
	BitsPerSample int
	DataOffset    int
	DataSize      int
}

// Duration returns the playback length of the data chunk in seconds.
func (h *WAVHeader) Duration() float64 {
	return h.Format.Duration(h.DataSize)
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// ParseWAV walks the RIFF chunks of data and returns the fmt and data chunk
// details. A data chunk that claims more bytes than present is clamped.
func ParseWAV(data []byte) (*WAVHeader, error) {
	if len(data) < MinWAVSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than a WAV header", ErrInvalidWAV, len(data))
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("%w: missing WAVE format marker", ErrInvalidWAV)
	}

	h := &WAVHeader{}
	var haveFmt bool
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			if err := h.parseFmt(data[body : body+16]); err != nil {
				return nil, err
			}
			if h.FormatCode == wavFormatExtensible && size >= 40 && body+26 <= len(data) {
				// SubFormat GUID starts with the effective format code.
				h.FormatCode = binary.LittleEndian.Uint16(data[body+24 : body+26])
				if err := h.resolveEncoding(); err != nil {
					return nil, err
				}
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			h.DataOffset = body
			h.DataSize = size
			if body+size > len(data) || size == 0 {
				h.DataSize = len(data) - body
			}
			return h, nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

func (h *WAVHeader) parseFmt(b []byte) error {
	h.FormatCode = binary.LittleEndian.Uint16(b[0:2])
	channels := int(binary.LittleEndian.Uint16(b[2:4]))
	rate := int(binary.LittleEndian.Uint32(b[4:8]))
	h.BitsPerSample = int(binary.LittleEndian.Uint16(b[14:16]))

	if channels == 0 {
		return fmt.Errorf("%w: zero channels", ErrInvalidWAV)
	}
	if rate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrInvalidWAV)
	}
	h.Format = models.AudioFormat{
		SampleRateHz:      rate,
		Channels:          channels,
		ContainerMimetype: "audio/wav",
	}
	if h.FormatCode == wavFormatExtensible {
		// Resolved from the SubFormat once the extension is read; PCM until then.
		h.Format.Encoding = pcmEncoding(h.BitsPerSample)
		return nil
	}
	return h.resolveEncoding()
}

func (h *WAVHeader) resolveEncoding() error {
	switch h.FormatCode {
	case wavFormatPCM:
		enc := pcmEncoding(h.BitsPerSample)
		if enc == "" {
			return fmt.Errorf("%w: unsupported PCM bit depth %d", ErrInvalidWAV, h.BitsPerSample)
		}
		h.Format.Encoding = enc
	case wavFormatALaw:
		h.Format.Encoding = models.EncodingAlaw
	case wavFormatMuLaw:
		h.Format.Encoding = models.EncodingMulaw
	default:
		return fmt.Errorf("%w: unsupported format code 0x%04X", ErrInvalidWAV, h.FormatCode)
	}
	return nil
}

func pcmEncoding(bits int) models.Encoding {
	switch bits {
	case 16:
		return models.EncodingLinear16
	case 32:
		return models.EncodingLinear32
	}
	return ""
}

// EncodeWAV wraps 16-bit little-endian PCM samples in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bits = 16
	blockAlign := channels * bits / 8
	buf := bytes.NewBuffer(make([]byte, 0, MinWAVSize+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, wavFormatPCM)
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bits))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
