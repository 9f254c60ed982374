// Package attach implements the attach socket: a per-process Unix socket
// through which a separate leakwatch process asks the host to run an agent's
// entry point in-process.
//
// Messages are single CBOR items in Core Deterministic Encoding, one request
// and one response per connection.
package attach

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("attach: CBOR encoder initialization failed: " + err.Error())
	}
	// Unknown fields are ignored so either side can add fields first.
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
	}.DecMode()
	if err != nil {
		panic("attach: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(w io.Writer, v any) error {
	return encMode.NewEncoder(w).Encode(v)
}

func decode(r io.Reader, v any) error {
	return decMode.NewDecoder(r).Decode(v)
}
