package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWAV is returned when input does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// ErrUnsupportedEncoding is returned for WAV data that is not 16-bit PCM.
var ErrUnsupportedEncoding = errors.New("audio: unsupported WAV encoding")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
	wavHeaderSize       = 44
)

// EncodeWAV wraps raw PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	_ = WriteWAV(buf, pcm, f)
	return buf.Bytes()
}

// WriteWAV writes pcm to w as a WAV stream.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	var hdr [wavHeaderSize]byte
	dataSize := uint32(len(pcm))
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(hdr[34:36], 8*BytesPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("audio: write WAV header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write WAV data: %w", err)
	}
	return nil
}

// WriteWAVFile writes pcm as a WAV file at path.
func WriteWAVFile(path string, pcm []byte, f Format) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, f), 0o600); err != nil {
		return fmt.Errorf("audio: write %s: %w", path, err)
	}
	return nil
}

// DecodeWAV parses a WAV stream and returns its format and PCM payload.
// Only 16-bit integer PCM is accepted. Chunks other than "fmt " and "data" are
// skipped. A data chunk whose declared size overruns the stream, as written by
// encoders that stream to a pipe, is read to EOF.
func DecodeWAV(r io.Reader) (Format, []byte, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, ErrNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		f      Format
		haveFm bool
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Format{}, nil, fmt.Errorf("audio: WAV has no data chunk: %w", io.ErrUnexpectedEOF)
			}
			return Format{}, nil, fmt.Errorf("audio: read WAV chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("audio: read WAV fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return Format{}, nil, fmt.Errorf("audio: WAV fmt chunk too short (%d bytes)", len(body))
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if (tag != wavFormatPCM && tag != wavFormatExtensible) || bits != 8*BytesPerSample {
				return Format{}, nil, fmt.Errorf("%w: format tag %d, %d bits", ErrUnsupportedEncoding, tag, bits)
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFm = true
		case "data":
			if !haveFm {
				return Format{}, nil, fmt.Errorf("audio: WAV data chunk precedes fmt chunk")
			}
			pcm, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return Format{}, nil, fmt.Errorf("audio: read WAV data: %w", err)
			}
			if rem := len(pcm) % f.FrameSize(); rem != 0 {
				pcm = pcm[:len(pcm)-rem]
			}
			return f, pcm, nil
		default:
			skip := int64(size) + int64(size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Format{}, nil, fmt.Errorf("audio: skip WAV %q chunk: %w", id, err)
			}
		}
	}
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Format, []byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer fh.Close()
	return DecodeWAV(fh)
}
