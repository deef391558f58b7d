package encoding

import (
	"encoding/binary"
	"unsafe"

	"github.com/modern-go/reflect2"
)

type fieldData struct {
	field  reflect2.StructField
	layout *layout
	offset int
}

func decodeStruct(typ reflect2.StructType, pack int) *layout {
	count := typ.NumField()
	fields := make([]fieldData, 0, count)
	var offset, maxAlign int
	for i := 0; i < count; i++ {
		field := typ.Field(i)
		if field.Tag().Get("encoding") == "ignore" {
			continue
		}
		l := decode(field.Type(), pack)
		offset = align(offset, l.align)
		fields = append(fields, fieldData{field, l, offset})
		offset += l.size
		maxAlign = max(maxAlign, l.align)
	}
	maxAlign = max(maxAlign, 1)
	return &layout{
		handler: func(data []byte, ptr unsafe.Pointer, order binary.ByteOrder) {
			for _, f := range fields {
				f.layout.handler(data[f.offset:], f.field.UnsafeGet(ptr), order)
			}
		},
		size:  align(offset, maxAlign),
		align: maxAlign,
	}
}
