// Package format resolves declared and detected audio metadata into the exact
// AudioFormat a backend request is built from.
package format

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"transcription-stream-service/internal/models"
)

const (
	DefaultSampleRateHz = 16000
	DefaultChannels     = 1
	DefaultRawMimetype  = "audio/raw"
	OctetStream         = "application/octet-stream"

	minSampleRateHz = 8000
	maxSampleRateHz = 192000
	maxChannels     = 8
)

// ErrUnsupportedFormat matches every negotiation failure.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// UnsupportedFormatError names the offending mimetype or encoding.
type UnsupportedFormatError struct {
	Mimetype string
	Encoding models.Encoding
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	switch {
	case e.Mimetype != "":
		return fmt.Sprintf("unsupported audio format %q: %s", e.Mimetype, e.Reason)
	case e.Encoding != "":
		return fmt.Sprintf("unsupported audio encoding %q: %s", e.Encoding, e.Reason)
	default:
		return "unsupported audio format: " + e.Reason
	}
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

type family int

const (
	familyRaw family = iota
	familyWAV
	familyMPEG
	familyOgg
	familyFLAC
	familyWebM
	familyMP4
	familyOctet
)

var containers = map[string]family{
	"audio/raw":                familyRaw,
	"audio/pcm":                familyRaw,
	"audio/l16":                familyRaw,
	"audio/basic":              familyRaw,
	"audio/wav":                familyWAV,
	"audio/x-wav":              familyWAV,
	"audio/wave":               familyWAV,
	"audio/vnd.wave":           familyWAV,
	"audio/mpeg":               familyMPEG,
	"audio/mp3":                familyMPEG,
	"audio/ogg":                familyOgg,
	"audio/vorbis":             familyOgg,
	"audio/opus":               familyOgg,
	"audio/flac":               familyFLAC,
	"audio/x-flac":             familyFLAC,
	"audio/webm":               familyWebM,
	"audio/mp4":                familyMP4,
	"audio/m4a":                familyMP4,
	"audio/x-m4a":              familyMP4,
	"audio/aac":                familyMP4,
	"application/octet-stream": familyOctet,
}

var compatible = map[family][]models.Encoding{
	familyWAV:  {models.EncodingLinear16, models.EncodingLinear32, models.EncodingMulaw, models.EncodingAlaw},
	familyMPEG: {models.EncodingMP3},
	familyOgg:  {models.EncodingOpus},
	familyWebM: {models.EncodingOpus},
	familyFLAC: {models.EncodingFLAC},
	familyMP4:  {models.EncodingAAC},
}

var extensions = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".pcm":  "audio/raw",
	".raw":  "audio/raw",
}

// Negotiate resolves a partial declared format and an optional detected
// mimetype into a complete, backend-ready AudioFormat.
//
// A complete and consistent declared format is returned unchanged. Raw
// encodings get DefaultSampleRateHz and DefaultChannels for missing fields and
// the result records those defaults.
func Negotiate(declared models.AudioFormat, hint string) (models.AudioFormat, error) {
	if declared.Encoding != "" && !declared.Encoding.Valid() {
		return models.AudioFormat{}, &UnsupportedFormatError{Encoding: declared.Encoding, Reason: "unknown encoding"}
	}
	if declared.SampleRateHz < 0 || declared.Channels < 0 {
		return models.AudioFormat{}, &UnsupportedFormatError{Reason: "negative sample rate or channel count"}
	}

	source := declared.ContainerMimetype
	if source == "" {
		source = hint
	}
	mt, params, err := parseMimetype(source)
	if err != nil {
		return models.AudioFormat{}, &UnsupportedFormatError{Mimetype: source, Reason: "malformed mimetype"}
	}

	out := declared
	if mt == "" {
		if declared.Encoding == "" || declared.Encoding.IsRaw() {
			return negotiateRaw(out, DefaultRawMimetype, nil)
		}
		out.ContainerMimetype = OctetStream
		return out, checkRanges(out)
	}

	fam, ok := containers[mt]
	if !ok {
		if !declared.Encoding.IsRaw() {
			return models.AudioFormat{}, &UnsupportedFormatError{Mimetype: mt, Reason: "unrecognized container and no raw audio hint"}
		}
		out.ContainerMimetype = DefaultRawMimetype
		return negotiateRaw(out, DefaultRawMimetype, nil)
	}

	switch fam {
	case familyRaw:
		return negotiateRaw(out, mt, params)
	case familyOctet:
		if out.Encoding.IsRaw() {
			return negotiateRaw(out, mt, params)
		}
	default:
		if out.Encoding != "" && !slices.Contains(compatible[fam], out.Encoding) {
			return models.AudioFormat{}, &UnsupportedFormatError{
				Mimetype: mt,
				Encoding: out.Encoding,
				Reason:   fmt.Sprintf("encoding %s cannot be carried in this container", out.Encoding),
			}
		}
		// PCM in a container still needs a rate and channel count downstream.
		if out.Encoding.IsRaw() {
			if out.SampleRateHz == 0 {
				out.SampleRateHz = DefaultSampleRateHz
			}
			if out.Channels == 0 {
				out.Channels = DefaultChannels
			}
		}
	}

	if out.ContainerMimetype == "" {
		out.ContainerMimetype = mt
	}
	return out, checkRanges(out)
}

func negotiateRaw(out models.AudioFormat, mt string, params map[string]string) (models.AudioFormat, error) {
	if out.Encoding == "" {
		out.Encoding = models.EncodingLinear16
		if mt == "audio/basic" {
			out.Encoding = models.EncodingMulaw
		}
	}
	if !out.Encoding.IsRaw() {
		return models.AudioFormat{}, &UnsupportedFormatError{
			Mimetype: mt,
			Encoding: out.Encoding,
			Reason:   "raw container requires a PCM-family encoding",
		}
	}
	if (mt == "audio/l16" && out.Encoding != models.EncodingLinear16) ||
		(mt == "audio/basic" && out.Encoding != models.EncodingMulaw) {
		return models.AudioFormat{}, &UnsupportedFormatError{
			Mimetype: mt,
			Encoding: out.Encoding,
			Reason:   "encoding contradicts mimetype",
		}
	}

	if out.SampleRateHz == 0 {
		out.SampleRateHz = paramInt(params, "rate", DefaultSampleRateHz)
	}
	if out.Channels == 0 {
		out.Channels = paramInt(params, "channels", DefaultChannels)
	}
	if out.ContainerMimetype == "" {
		out.ContainerMimetype = mt
	}
	return out, checkRanges(out)
}

func checkRanges(f models.AudioFormat) error {
	if f.SampleRateHz != 0 && (f.SampleRateHz < minSampleRateHz || f.SampleRateHz > maxSampleRateHz) {
		return &UnsupportedFormatError{
			Mimetype: f.ContainerMimetype,
			Reason:   fmt.Sprintf("sample rate %d outside %d..%d", f.SampleRateHz, minSampleRateHz, maxSampleRateHz),
		}
	}
	if f.Channels > maxChannels {
		return &UnsupportedFormatError{
			Mimetype: f.ContainerMimetype,
			Reason:   fmt.Sprintf("%d channels exceeds %d", f.Channels, maxChannels),
		}
	}
	return nil
}

func parseMimetype(s string) (string, map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, nil
	}
	mt, params, err := mime.ParseMediaType(s)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(mt), params, nil
}

func paramInt(params map[string]string, key string, def int) int {
	if v, ok := params[key]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// IsSupportedMimetype reports whether s names a recognised container or raw hint.
func IsSupportedMimetype(s string) bool {
	mt, _, err := parseMimetype(s)
	if err != nil || mt == "" {
		return false
	}
	_, ok := containers[mt]
	return ok
}

// SupportedMimetypes lists recognised mimetypes in sorted order.
func SupportedMimetypes() []string {
	out := make([]string, 0, len(containers))
	for mt := range containers {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// MimetypeForPath maps a file extension to its container mimetype, or "".
func MimetypeForPath(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedExtensions lists accepted audio file extensions in sorted order.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
