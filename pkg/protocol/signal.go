package protocol

// SignalInvocation is one client-side signal emission carried inside a
// signal frame. Params hold the event's form data as repeated
// key/value pairs, in the order the client serialized them.
type SignalInvocation struct {
	// Signal is the encoded signal name (sender id, '.', event type).
	Signal string
	// AckID is the last update the client had applied when it fired
	// the event.
	AckID uint64
	// Params are repeated key/value pairs.
	Params []Param
}

// Param is one key/value pair of event payload. Keys may repeat.
type Param struct {
	Key   string
	Value string
}

// Encode serializes the invocation into a signal frame payload.
func (s *SignalInvocation) Encode(e *Encoder) {
	e.String(s.Signal)
	e.Uvarint(s.AckID)
	e.Uvarint(uint64(len(s.Params)))
	for _, p := range s.Params {
		e.String(p.Key)
		e.String(p.Value)
	}
}

// DecodeSignalInvocation parses a signal frame payload.
func DecodeSignalInvocation(d *Decoder) (*SignalInvocation, error) {
	sig, err := d.String()
	if err != nil {
		return nil, err
	}
	ack, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	n, err := d.Count()
	if err != nil {
		return nil, err
	}
	params := make([]Param, 0, n)
	for i := 0; i < n; i++ {
		k, err := d.String()
		if err != nil {
			return nil, err
		}
		v, err := d.String()
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Key: k, Value: v})
	}
	return &SignalInvocation{Signal: sig, AckID: ack, Params: params}, nil
}
