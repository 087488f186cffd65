// Package encoding provides msgpack serialization for stored list columns
// and published audit events. All msgpack operations go through this
// package so values round-trip the same way everywhere.
//
// Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type encoderPoolEntry struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := new(bytes.Buffer)
		enc := msgpack.NewEncoder(buf)
		enc.SetSortMapKeys(true)
		return &encoderPoolEntry{buf: buf, enc: enc}
	},
}

// Marshal encodes a value using a pooled encoder. Map keys are sorted so
// equal values always produce equal bytes.
func Marshal(v interface{}) ([]byte, error) {
	entry := encoderPool.Get().(*encoderPoolEntry)
	entry.buf.Reset()

	if err := entry.enc.Encode(v); err != nil {
		encoderPool.Put(entry)
		return nil, err
	}

	// Copy result before returning to pool
	result := make([]byte, entry.buf.Len())
	copy(result, entry.buf.Bytes())
	encoderPool.Put(entry)

	return result, nil
}

// Unmarshal decodes msgpack data using loose interface decoding: strings
// and binary values decode as Go strings.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// DecodeValue decodes data into a generic value. Integers come back as
// int and nested maps as map[string]interface{}, matching values built in
// Go code.
func DecodeValue(data []byte) (interface{}, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int64:
		return int(t)
	case uint64:
		return int(t)
	case []interface{}:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]interface{}:
		for k, item := range t {
			t[k] = normalize(item)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			if s, ok := k.(string); ok {
				out[s] = normalize(item)
			}
		}
		return out
	}
	return v
}
