package flight

import (
	"fmt"

	"github.com/23skdu/tdcsort/internal/sorting"
	"github.com/goccy/go-json"
)

// Ticket selects spikes of a registered sorting. A nil UnitID selects every unit.
type Ticket struct {
	Sorting    string `json:"sorting"`
	UnitID     *int64 `json:"unit_id,omitempty"`
	StartFrame *int64 `json:"start_frame,omitempty"`
	EndFrame   *int64 `json:"end_frame,omitempty"`
}

// ParseTicket accepts a plain sorting name or a JSON encoded Ticket.
func ParseTicket(raw []byte) (Ticket, error) {
	if len(raw) == 0 {
		return Ticket{}, fmt.Errorf("%w: empty", ErrInvalidTicket)
	}
	if raw[0] != '{' {
		return Ticket{Sorting: string(raw)}, nil
	}

	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if t.Sorting == "" {
		return Ticket{}, fmt.Errorf("%w: missing sorting", ErrInvalidTicket)
	}
	return t, nil
}

// Encode returns the JSON form of t.
func (t Ticket) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Frames converts the ticket bounds into a FrameRange.
func (t Ticket) Frames() sorting.FrameRange {
	var opts []sorting.FrameOption
	if t.StartFrame != nil {
		opts = append(opts, sorting.StartFrame(*t.StartFrame))
	}
	if t.EndFrame != nil {
		opts = append(opts, sorting.EndFrame(*t.EndFrame))
	}
	return sorting.Frames(opts...)
}

// Units returns the unit selection for export.Rows.
func (t Ticket) Units() []int64 {
	if t.UnitID == nil {
		return nil
	}
	return []int64{*t.UnitID}
}
