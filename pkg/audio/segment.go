package audio

import "math"

// DefaultSegmentSeconds is the segment length used when a non-positive value
// is passed to [NewSegmenter].
const DefaultSegmentSeconds = 0.5

// Segment is a fixed-length slice of mono audio submitted to transcription as
// one unit.
type Segment struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback duration of the segment.
func (s Segment) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Segmenter accumulates mono samples from inbound frames and cuts them into
// fixed-duration segments at the frames' native sample rate.
//
// The buffer never mixes sample rates: a frame arriving at a different rate
// discards everything buffered so far and the new rate is adopted. No
// resampling takes place.
//
// Segmenter is not safe for concurrent use; it is owned by a single read loop.
type Segmenter struct {
	seconds    float64
	sampleRate int
	buf        []int16
}

// NewSegmenter returns a Segmenter cutting segments of the given length.
func NewSegmenter(segmentSeconds float64) *Segmenter {
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	return &Segmenter{seconds: segmentSeconds}
}

// Threshold returns the segment length in samples for the given rate:
// floor(sampleRate × segmentSeconds), never less than one.
func (s *Segmenter) Threshold(sampleRate int) int {
	return max(1, int(math.Floor(float64(sampleRate)*s.seconds)))
}

// Append downmixes frame to mono and appends it to the buffer.
func (s *Segmenter) Append(frame AudioFrame) {
	if s.sampleRate == 0 {
		s.sampleRate = frame.SampleRate
	}
	if frame.SampleRate != s.sampleRate {
		s.buf = s.buf[:0]
		s.sampleRate = frame.SampleRate
	}
	s.buf = append(s.buf, Downmix(frame.Samples, frame.Channels)...)
}

// Drain removes and returns every complete segment currently buffered,
// oldest first. The remainder shorter than one segment stays buffered.
func (s *Segmenter) Drain() []Segment {
	if s.sampleRate <= 0 {
		return nil
	}
	n := s.Threshold(s.sampleRate)
	var out []Segment
	for len(s.buf) >= n {
		seg := make([]int16, n)
		copy(seg, s.buf[:n])
		out = append(out, Segment{Samples: seg, SampleRate: s.sampleRate})
		s.buf = s.buf[n:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return out
}

// Buffered returns the number of mono samples waiting for the next segment.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// SampleRate returns the rate of the buffered audio, or 0 before the first frame.
func (s *Segmenter) SampleRate() int { return s.sampleRate }

// Reset drops buffered audio and forgets the sample rate.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.sampleRate = 0
}
