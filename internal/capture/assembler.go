package capture

// assembler regroups the device callback's arbitrarily sized S16LE byte
// blocks into fixed-size float frames. The device owns its period size; the
// engine owns the frame size; this is the seam between them.
type assembler struct {
	frameSize int
	leftover  []byte
}

func newAssembler(frameSize int) *assembler {
	return &assembler{
		frameSize: frameSize,
		leftover:  make([]byte, 0, frameSize*2),
	}
}

// push appends raw device bytes and invokes emit once per completed frame.
// emit receives a freshly allocated slice each time.
func (a *assembler) push(data []byte, emit func([]float32)) {
	a.leftover = append(a.leftover, data...)

	frameBytes := a.frameSize * 2
	for len(a.leftover) >= frameBytes {
		frame := make([]float32, a.frameSize)
		for i := range frame {
			n := int16(a.leftover[i*2]) | int16(a.leftover[i*2+1])<<8
			frame[i] = float32(n) / 32768
		}
		a.leftover = a.leftover[frameBytes:]
		emit(frame)
	}

	// Compact so the leftover slice does not pin the grown backing array.
	if len(a.leftover) > 0 && cap(a.leftover) > frameBytes*4 {
		compact := make([]byte, len(a.leftover), frameBytes*2)
		copy(compact, a.leftover)
		a.leftover = compact
	}
}
