// Package jsonx is the JSON codec used for wire frames and config files.
package jsonx

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal       = api.Marshal
	MarshalIndent = api.MarshalIndent
	Unmarshal     = api.Unmarshal
	Valid         = api.Valid
	NewDecoder    = api.NewDecoder
	NewEncoder    = api.NewEncoder
)

// RawMessage is the standard library type so values cross package boundaries
// without conversion; jsoniter encodes it verbatim.
type RawMessage = json.RawMessage
