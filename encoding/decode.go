package encoding

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/modern-go/reflect2"
)

var (
	ErrNotPointer  = errors.New("decode target is not a pointer")
	ErrShortRecord = errors.New("record shorter than layout")
)

type handler = func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder)

var decodeProcess sync.Map

// DecodeSize is the number of record bytes val occupies for the given
// packing. pack 0 means natural alignment.
func DecodeSize(pack int, val any) int {
	typ, _, err := target(val)
	if err != nil {
		return 0
	}
	return getUnmarshalData(typ, pack).size
}

// Decode fills the struct val points to from a fixed-layout record and
// returns the number of bytes consumed. Scalars are aligned to the smaller
// of their size and pack, as a C compiler under #pragma pack(pack) would.
func Decode(data []byte, order binary.ByteOrder, pack int, val any) (int, error) {
	typ, ptr, err := target(val)
	if err != nil {
		return 0, err
	} else if ptr == nil {
		return 0, ErrNotPointer
	}
	l := getUnmarshalData(typ, pack)
	if len(data) < l.size {
		return 0, ErrShortRecord
	}
	l.handler(data, ptr, order)
	return l.size, nil
}

func target(val any) (reflect2.Type, unsafe.Pointer, error) {
	typ := reflect2.TypeOf(val)
	if typ == nil || typ.Kind() != reflect.Pointer {
		return nil, nil, ErrNotPointer
	}
	return typ.(reflect2.PtrType).Elem(), reflect2.PtrOf(val), nil
}

func getUnmarshalData(typ reflect2.Type, pack int) *layout {
	key := [2]uintptr{uintptr(pack), typ.RType()}
	if v, ok := decodeProcess.Load(key); ok {
		return v.(*layout)
	}
	l := decode(typ, pack)
	decodeProcess.Store(key, l)
	return l
}

func decode(typ reflect2.Type, pack int) *layout {
	switch typ.Kind() {
	case reflect.Bool:
		return scalar(1, pack, func(data []byte, ptr unsafe.Pointer, _ binary.ByteOrder) {
			*(*bool)(ptr) = data[0] != 0
		})
	case reflect.Int8, reflect.Uint8:
		return scalar(1, pack, func(data []byte, ptr unsafe.Pointer, _ binary.ByteOrder) {
			*(*uint8)(ptr) = data[0]
		})
	case reflect.Int16, reflect.Uint16:
		return scalar(2, pack, func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder) {
			*(*uint16)(ptr) = order.Uint16(data)
		})
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return scalar(4, pack, func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder) {
			*(*uint32)(ptr) = order.Uint32(data)
		})
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return scalar(8, pack, func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder) {
			*(*uint64)(ptr) = order.Uint64(data)
		})
	case reflect.Array:
		return decodeArray(typ.(reflect2.ArrayType), pack)
	case reflect.Struct:
		return decodeStruct(typ.(reflect2.StructType), pack)
	}
	panic("Unsupported Type")
}

func scalar(size, pack int, h handler) *layout {
	a := size
	if pack > 0 && pack < a {
		a = pack
	}
	return &layout{handler: h, size: size, align: a}
}

func decodeArray(typ reflect2.ArrayType, pack int) *layout {
	elem := decode(typ.Elem(), pack)
	n := typ.Len()
	stride := typ.Elem().Type1().Size()
	return &layout{
		handler: func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder) {
			for i := 0; i < n; i++ {
				elem.handler(data[i*elem.size:], unsafe.Add(ptr, uintptr(i)*stride), order)
			}
		},
		size:  elem.size * n,
		align: elem.align,
	}
}
