package models

import "fmt"

// Encoding names the sample encoding of an audio payload.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingLinear32 Encoding = "linear32"
	EncodingMulaw    Encoding = "mulaw"
	EncodingAlaw     Encoding = "alaw"
	EncodingMP3      Encoding = "mp3"
	EncodingOpus     Encoding = "opus"
	EncodingFLAC     Encoding = "flac"
	EncodingAAC      Encoding = "aac"
	EncodingAMRNB    Encoding = "amr-nb"
	EncodingAMRWB    Encoding = "amr-wb"
	EncodingSpeex    Encoding = "speex"
	EncodingG729     Encoding = "g729"
)

// KnownEncodings lists every encoding the service understands.
var KnownEncodings = []Encoding{
	EncodingLinear16, EncodingLinear32, EncodingMulaw, EncodingAlaw,
	EncodingMP3, EncodingOpus, EncodingFLAC, EncodingAAC,
	EncodingAMRNB, EncodingAMRWB, EncodingSpeex, EncodingG729,
}

// Valid reports whether e is one of KnownEncodings.
func (e Encoding) Valid() bool {
	for _, k := range KnownEncodings {
		if e == k {
			return true
		}
	}
	return false
}

// IsRaw reports whether e is a headerless PCM-family encoding.
func (e Encoding) IsRaw() bool {
	switch e {
	case EncodingLinear16, EncodingLinear32, EncodingMulaw, EncodingAlaw:
		return true
	}
	return false
}

// BytesPerSample returns the sample width for raw encodings, 0 otherwise.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingLinear16:
		return 2
	case EncodingLinear32:
		return 4
	case EncodingMulaw, EncodingAlaw:
		return 1
	}
	return 0
}

// AudioFormat describes an audio payload. Zero fields are unset.
type AudioFormat struct {
	Encoding          Encoding `json:"encoding,omitempty"`
	SampleRateHz      int      `json:"sample_rate,omitempty"`
	Channels          int      `json:"channels,omitempty"`
	ContainerMimetype string   `json:"mimetype,omitempty"`
}

// IsRaw reports whether the format carries headerless PCM-family samples.
// PCM inside a WAV container is self-describing and is not raw.
func (f AudioFormat) IsRaw() bool {
	if !f.Encoding.IsRaw() {
		return false
	}
	switch f.ContainerMimetype {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return false
	}
	return true
}

// Complete reports whether every field is set.
func (f AudioFormat) Complete() bool {
	return f.Encoding != "" && f.SampleRateHz > 0 && f.Channels > 0 && f.ContainerMimetype != ""
}

// BytesPerSecond returns the byte rate of raw audio, or 0 when it cannot be derived.
func (f AudioFormat) BytesPerSecond() int {
	width := f.Encoding.BytesPerSample()
	if width == 0 || f.SampleRateHz <= 0 || f.Channels <= 0 {
		return 0
	}
	return width * f.SampleRateHz * f.Channels
}

// Duration returns the playback length in seconds of n bytes, or 0 when unknown.
func (f AudioFormat) Duration(n int) float64 {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%s/%dHz/%dch (%s)", f.Encoding, f.SampleRateHz, f.Channels, f.ContainerMimetype)
}

// AudioChunk is one slice of audio moving from a source to a session.
type AudioChunk struct {
	Data []byte
	Seq  uint64
}
