package httpkit

import (
	"io"
)

// userData is an append-only list of request-scoped values.
//
// Deleted entries keep their slot so a later Set can reuse the
// allocated key buffer instead of growing the slice.
type userDataKV struct {
	key     []byte
	value   interface{}
	deleted bool
}

type userData []userDataKV

func (d *userData) Set(key string, value interface{}) {
	args := *d
	reuse := -1
	for i := range args {
		kv := &args[i]
		if !kv.deleted && string(kv.key) == key {
			kv.value = value
			return
		}
		if kv.deleted && reuse < 0 {
			reuse = i
		}
	}

	if reuse >= 0 {
		kv := &args[reuse]
		kv.key = append(kv.key[:0], key...)
		kv.value = value
		kv.deleted = false
		return
	}

	if value == nil {
		return
	}

	if cap(args) > len(args) {
		args = args[:len(args)+1]
		kv := &args[len(args)-1]
		kv.key = append(kv.key[:0], key...)
		kv.value = value
		kv.deleted = false
		*d = args
		return
	}

	*d = append(args, userDataKV{
		key:   append([]byte(nil), key...),
		value: value,
	})
}

func (d *userData) SetBytes(key []byte, value interface{}) {
	d.Set(b2s(key), value)
}

func (d *userData) Get(key string) interface{} {
	args := *d
	for i := range args {
		kv := &args[i]
		if !kv.deleted && string(kv.key) == key {
			return kv.value
		}
	}
	return nil
}

func (d *userData) GetBytes(key []byte) interface{} {
	return d.Get(b2s(key))
}

func (d *userData) VisitAll(visitor func(key []byte, value interface{})) {
	args := *d
	for i := range args {
		kv := &args[i]
		if !kv.deleted {
			visitor(kv.key, kv.value)
		}
	}
}

// Reset drops all the values, closing the ones implementing io.Closer.
func (d *userData) Reset() {
	args := *d
	for i := range args {
		closeUserValue(args[i].value)
		args[i].value = nil
		args[i].deleted = true
	}
	*d = args[:0]
}

func (d *userData) Remove(key string) {
	args := *d
	for i := range args {
		kv := &args[i]
		if !kv.deleted && string(kv.key) == key {
			closeUserValue(kv.value)
			kv.value = nil
			kv.deleted = true
			return
		}
	}
}

func (d *userData) RemoveBytes(key []byte) {
	d.Remove(b2s(key))
}

func closeUserValue(v interface{}) {
	if vc, ok := v.(io.Closer); ok {
		vc.Close()
	}
}
