// Copyright (c) 2023 Palantir Technologies. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package java

import (
	"encoding/binary"
	"math"
)

// classReader consumes a class file held in memory. Every read checks the remaining length so
// that a truncated file fails with a MalformedInputError rather than a panic.
type classReader struct {
	buf []byte
	off int
}

func (r *classReader) need(n int, what string) error {
	if n < 0 || len(r.buf)-r.off < n {
		return malformed(r.off, "truncated reading %s: need %d bytes, %d remain", what, n, len(r.buf)-r.off)
	}
	return nil
}

func (r *classReader) u1(what string) (uint8, error) {
	if err := r.need(1, what); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *classReader) u2(what string) (uint16, error) {
	if err := r.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *classReader) u4(what string) (uint32, error) {
	if err := r.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *classReader) u8(what string) (uint64, error) {
	if err := r.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// bytes returns the next n bytes without copying.
func (r *classReader) bytes(n int, what string) ([]byte, error) {
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

func (r *classReader) u2s(count uint16, what string) ([]uint16, error) {
	if err := r.need(2*int(count), what); err != nil {
		return nil, err
	}
	out := make([]uint16, count)
	for i := range out {
		out[i], _ = r.u2(what)
	}
	return out, nil
}

func (r *classReader) constant(pool ConstantPool) (Constant, bool, error) {
	start := r.off
	tag, err := r.u1("constant pool tag")
	if err != nil {
		return nil, false, err
	}
	switch Tag(tag) {
	case TagUTF8:
		n, err := r.u2("utf8 length")
		if err != nil {
			return nil, false, err
		}
		b, err := r.bytes(int(n), "utf8 content")
		return UTF8Constant{Bytes: b}, false, err
	case TagInteger:
		v, err := r.u4("integer constant")
		return IntegerConstant{Value: int32(v)}, false, err
	case TagFloat:
		v, err := r.u4("float constant")
		return FloatConstant{Value: math.Float32frombits(v)}, false, err
	case TagLong:
		v, err := r.u8("long constant")
		return LongConstant{Value: int64(v)}, true, err
	case TagDouble:
		v, err := r.u8("double constant")
		return DoubleConstant{Value: math.Float64frombits(v)}, true, err
	case TagClass:
		i, err := r.u2("class name index")
		return ClassConstant{NameIndex: i}, false, err
	case TagString:
		i, err := r.u2("string index")
		return StringConstant{StringIndex: i}, false, err
	case TagModule:
		i, err := r.u2("module name index")
		return ModuleConstant{NameIndex: i}, false, err
	case TagPackage:
		i, err := r.u2("package name index")
		return PackageConstant{NameIndex: i}, false, err
	case TagMethodType:
		i, err := r.u2("method type descriptor index")
		return MethodTypeConstant{DescriptorIndex: i}, false, err
	case TagMethodHandle:
		kind, err := r.u1("method handle kind")
		if err != nil {
			return nil, false, err
		}
		i, err := r.u2("method handle reference index")
		return MethodHandleConstant{ReferenceKind: kind, ReferenceIndex: i}, false, err
	case TagFieldRef, TagMethodRef, TagInterfaceMethodRef, TagNameAndType, TagDynamic, TagInvokeDynamic:
		if err := r.need(4, Tag(tag).String()); err != nil {
			return nil, false, err
		}
		a, _ := r.u2("")
		b, _ := r.u2("")
		switch Tag(tag) {
		case TagFieldRef:
			return FieldRefConstant{ClassIndex: a, NameAndTypeIndex: b}, false, nil
		case TagMethodRef:
			return MethodRefConstant{ClassIndex: a, NameAndTypeIndex: b}, false, nil
		case TagInterfaceMethodRef:
			return InterfaceMethodRefConstant{ClassIndex: a, NameAndTypeIndex: b}, false, nil
		case TagNameAndType:
			return NameAndTypeConstant{NameIndex: a, DescriptorIndex: b}, false, nil
		case TagDynamic:
			return DynamicConstant{BootstrapMethodAttrIndex: a, NameAndTypeIndex: b}, false, nil
		default:
			return InvokeDynamicConstant{BootstrapMethodAttrIndex: a, NameAndTypeIndex: b}, false, nil
		}
	}
	return nil, false, malformed(start, "unrecognised constant pool tag %d at index %d", tag, len(pool)+1)
}

func (r *classReader) attributes(what string) ([]Attribute, error) {
	count, err := r.u2(what + " attribute count")
	if err != nil {
		return nil, err
	}
	attrs := make([]Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		nameIndex, err := r.u2(what + " attribute name")
		if err != nil {
			return nil, err
		}
		length, err := r.u4(what + " attribute length")
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(len(r.buf)-r.off) {
			return nil, malformed(r.off, "truncated %s attribute: length %d exceeds %d remaining bytes", what, length, len(r.buf)-r.off)
		}
		info, _ := r.bytes(int(length), what+" attribute")
		attrs = append(attrs, Attribute{NameIndex: nameIndex, Info: info})
	}
	return attrs, nil
}

func (r *classReader) members(what string) ([]Member, error) {
	count, err := r.u2(what + " count")
	if err != nil {
		return nil, err
	}
	members := make([]Member, 0, count)
	for i := 0; i < int(count); i++ {
		if err := r.need(6, what); err != nil {
			return nil, err
		}
		var m Member
		m.AccessFlags, _ = r.u2("")
		m.NameIndex, _ = r.u2("")
		m.DescriptorIndex, _ = r.u2("")
		if m.Attributes, err = r.attributes(what); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}
