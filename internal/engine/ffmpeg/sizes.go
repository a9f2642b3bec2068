package ffmpeg

import "github.com/zsiec/avpipe/internal/rational"

// maxTrackedSizes bounds packetSizes for decoders that drop frames or
// rewrite their timestamps.
const maxTrackedSizes = 64

// packetSizes remembers the size of recently sent packets by pts so each
// decoded frame can report the packet it came from.
type packetSizes struct {
	sizes map[int64]int
	order []int64 // oldest first
}

func (s *packetSizes) add(pts int64, n int) {
	if pts == rational.NoPTS {
		return
	}
	if s.sizes == nil {
		s.sizes = make(map[int64]int)
	}
	if _, ok := s.sizes[pts]; !ok {
		s.order = append(s.order, pts)
	}
	s.sizes[pts] = n
	for len(s.order) > maxTrackedSizes {
		delete(s.sizes, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *packetSizes) take(pts int64) (int, bool) {
	n, ok := s.sizes[pts]
	if !ok {
		return 0, false
	}
	delete(s.sizes, pts)
	for i, p := range s.order {
		if p == pts {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return n, true
}

func (s *packetSizes) len() int { return len(s.sizes) }

// reset forgets every size. The decoder calls it once flushed dry.
func (s *packetSizes) reset() {
	clear(s.sizes)
	s.order = s.order[:0]
}
