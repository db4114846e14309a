package sorting

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Descriptor is the serialisable form of an adapter.
type Descriptor struct {
	Extractor string `json:"extractor"`
	Kwargs    Params `json:"kwargs"`
}

// Descriptor returns the descriptor that reopens s.
func (s *Tridesclous) Descriptor() Descriptor {
	return Descriptor{Extractor: ExtractorName, Kwargs: s.params}
}

// Dump writes d as JSON.
func (d Descriptor) Dump(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// LoadDescriptor reads a descriptor written by Dump.
func LoadDescriptor(r io.Reader) (Descriptor, error) {
	var d Descriptor
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Extractor != ExtractorName {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownExtractor, d.Extractor)
	}
	return d, nil
}

// Open reconstructs the adapter the descriptor was taken from.
func (d Descriptor) Open(opener BackendOpener) (*Tridesclous, error) {
	return Open(opener, d.Kwargs.FolderPath, WithChannelGroup(d.Kwargs.ChanGrp))
}
