package protocol

// Update is one rendered batch of JavaScript pushed to the client.
// ID is a monotonically increasing sequence number echoed back by the
// client as its ack. Script is the complete batch; the client must
// apply it in one go.
type Update struct {
	ID     uint64
	Script string
}

// Encode serializes the update into an update frame payload.
func (u *Update) Encode(e *Encoder) {
	e.Uvarint(u.ID)
	e.String(u.Script)
}

// DecodeUpdate parses an update frame payload.
func DecodeUpdate(d *Decoder) (*Update, error) {
	id, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	script, err := d.String()
	if err != nil {
		return nil, err
	}
	return &Update{ID: id, Script: script}, nil
}

// Ack acknowledges that the client has applied the update with the
// given ID.
type Ack struct {
	ID uint64
}

// Encode serializes the ack into an ack frame payload.
func (a *Ack) Encode(e *Encoder) {
	e.Uvarint(a.ID)
}

// DecodeAck parses an ack frame payload.
func DecodeAck(d *Decoder) (*Ack, error) {
	id, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	return &Ack{ID: id}, nil
}
