package datastore

import (
	"encoding/gob"
	"io"
	"time"
)

const (
	testEventualTimeout = time.Second
	testEventualTick    = 5 * time.Millisecond
)

// gobSerializer is a minimal Serializer used across this package's tests. It
// round-trips any gob-encodable value.
type gobSerializer struct{}

func (gobSerializer) Encode(w io.Writer, v Value) error {
	return gob.NewEncoder(w).Encode(v)
}

func (gobSerializer) Decode(r io.Reader) (Value, error) {
	var v []byte
	if err := gob.NewDecoder(r).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func newTestState(data Value, root StorageDevice) *StorageState {
	return &StorageState{data: data, root: root, ready: newFiredReadySignal()}
}
