package mem

import (
	"fmt"

	"github.com/viant/bintly"
)

// snapshot is the bintly-encoded on-disk form of the in-memory index.
type snapshot struct {
	dimension int
	chunkIDs  []int64
	vectors   [][]float32
}

// EncodeBinary writes the snapshot to a bintly stream.
func (s *snapshot) EncodeBinary(stream *bintly.Writer) error {
	stream.Int(s.dimension)
	stream.Int(len(s.chunkIDs))
	for i := range s.chunkIDs {
		stream.Int(int(s.chunkIDs[i]))
		vector := s.vectors[i]
		if len(vector) != s.dimension {
			return fmt.Errorf("mem: vector %d has length %d, want %d", i, len(vector), s.dimension)
		}
		for _, value := range vector {
			stream.Float32(value)
		}
	}
	return nil
}

// DecodeBinary reads the snapshot from a bintly stream.
func (s *snapshot) DecodeBinary(stream *bintly.Reader) error {
	stream.Int(&s.dimension)
	var count int
	stream.Int(&count)
	if s.dimension < 0 || count < 0 {
		return fmt.Errorf("mem: malformed snapshot header (dimension %d, count %d)", s.dimension, count)
	}
	s.chunkIDs = make([]int64, count)
	s.vectors = make([][]float32, count)
	for i := 0; i < count; i++ {
		var chunkID int
		stream.Int(&chunkID)
		s.chunkIDs[i] = int64(chunkID)
		vector := make([]float32, s.dimension)
		for j := 0; j < s.dimension; j++ {
			stream.Float32(&vector[j])
		}
		s.vectors[i] = vector
	}
	return nil
}

func (s *snapshot) decode(payload []byte) error {
	readers := bintly.NewReaders()
	reader := readers.Get()
	defer readers.Put(reader)
	if err := reader.FromBytes(payload); err != nil {
		return err
	}
	return s.DecodeBinary(reader)
}
