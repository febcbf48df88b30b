package ambient

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// RenderWAV encodes d of static into w as 16-bit stereo PCM
func RenderWAV(w io.WriteSeeker, d time.Duration, seed int64, cfg Config) error {
	if d <= 0 {
		return errors.New("duration must be positive")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}

	format := beep.Format{
		SampleRate:  cfg.SampleRate,
		NumChannels: 2,
		Precision:   2,
	}

	streamer := beep.Take(cfg.SampleRate.N(d), NewStatic(seed, cfg))
	if err := wav.Encode(w, streamer, format); err != nil {
		return fmt.Errorf("error encoding wav: %w", err)
	}
	return nil
}

// Buffer is an in-memory io.WriteSeeker for encoders that patch headers
// after writing the body
type Buffer struct {
	data []byte
	pos  int
}

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Bytes returns everything written so far
func (b *Buffer) Bytes() []byte {
	return b.data
}
