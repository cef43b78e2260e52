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
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUTF8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldRef           Tag = 9
	TagMethodRef          Tag = 10
	TagInterfaceMethodRef Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20

	// TagReserved marks the unusable slot that follows a long or double. It never appears in a class file.
	TagReserved Tag = 0xff
)

var tagNames = map[Tag]string{
	TagUTF8:               "Utf8",
	TagInteger:            "Integer",
	TagFloat:              "Float",
	TagLong:               "Long",
	TagDouble:             "Double",
	TagClass:              "Class",
	TagString:             "String",
	TagFieldRef:           "Fieldref",
	TagMethodRef:          "Methodref",
	TagInterfaceMethodRef: "InterfaceMethodref",
	TagNameAndType:        "NameAndType",
	TagMethodHandle:       "MethodHandle",
	TagMethodType:         "MethodType",
	TagDynamic:            "Dynamic",
	TagInvokeDynamic:      "InvokeDynamic",
	TagModule:             "Module",
	TagPackage:            "Package",
	TagReserved:           "Reserved",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "Tag(" + strconv.Itoa(int(t)) + ")"
}

// Constant is a single constant pool entry. The set of implementations is closed: every
// constant pool kind has exactly one struct in this package.
type Constant interface {
	Tag() Tag
	constant()
}

type UTF8Constant struct {
	// Bytes holds the modified UTF-8 content exactly as stored in the class file.
	Bytes []byte
}

// Text decodes the modified UTF-8 content. The two byte NUL encoding is decoded and surrogate
// pairs are combined. Each byte that starts no valid sequence, and each unpaired surrogate,
// becomes one U+FFFD.
func (c UTF8Constant) Text() string {
	if utf8.Valid(c.Bytes) {
		return string(c.Bytes)
	}
	return decodeModifiedUTF8(c.Bytes)
}

func continuation(b byte) bool { return b&0xC0 == 0x80 }

func decodeModifiedUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	high := rune(-1)
	flush := func() {
		if high >= 0 {
			sb.WriteRune(utf8.RuneError)
			high = -1
		}
	}
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			flush()
			sb.WriteByte(c)
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b) && continuation(b[i+1]):
			flush()
			sb.WriteRune(rune(c&0x1F)<<6 | rune(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b) && continuation(b[i+1]) && continuation(b[i+2]):
			r := rune(c&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			i += 3
			switch {
			case r >= 0xD800 && r < 0xDC00:
				flush()
				high = r
			case r >= 0xDC00 && r < 0xE000:
				if high >= 0 {
					sb.WriteRune(utf16.DecodeRune(high, r))
					high = -1
				} else {
					sb.WriteRune(utf8.RuneError)
				}
			default:
				flush()
				sb.WriteRune(r)
			}
		default:
			flush()
			r, size := utf8.DecodeRune(b[i:])
			if r == utf8.RuneError && size <= 1 {
				size = 1
			}
			sb.WriteRune(r)
			i += size
		}
	}
	flush()
	return sb.String()
}

type IntegerConstant struct{ Value int32 }

type FloatConstant struct{ Value float32 }

type LongConstant struct{ Value int64 }

type DoubleConstant struct{ Value float64 }

type ClassConstant struct{ NameIndex uint16 }

type StringConstant struct{ StringIndex uint16 }

type FieldRefConstant struct{ ClassIndex, NameAndTypeIndex uint16 }

type MethodRefConstant struct{ ClassIndex, NameAndTypeIndex uint16 }

type InterfaceMethodRefConstant struct{ ClassIndex, NameAndTypeIndex uint16 }

type NameAndTypeConstant struct{ NameIndex, DescriptorIndex uint16 }

type MethodHandleConstant struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

type MethodTypeConstant struct{ DescriptorIndex uint16 }

type DynamicConstant struct{ BootstrapMethodAttrIndex, NameAndTypeIndex uint16 }

type InvokeDynamicConstant struct{ BootstrapMethodAttrIndex, NameAndTypeIndex uint16 }

type ModuleConstant struct{ NameIndex uint16 }

type PackageConstant struct{ NameIndex uint16 }

// ReservedConstant occupies the slot after a long or double. Resolving it is always an error.
type ReservedConstant struct{}

func (UTF8Constant) Tag() Tag               { return TagUTF8 }
func (IntegerConstant) Tag() Tag            { return TagInteger }
func (FloatConstant) Tag() Tag              { return TagFloat }
func (LongConstant) Tag() Tag               { return TagLong }
func (DoubleConstant) Tag() Tag             { return TagDouble }
func (ClassConstant) Tag() Tag              { return TagClass }
func (StringConstant) Tag() Tag             { return TagString }
func (FieldRefConstant) Tag() Tag           { return TagFieldRef }
func (MethodRefConstant) Tag() Tag          { return TagMethodRef }
func (InterfaceMethodRefConstant) Tag() Tag { return TagInterfaceMethodRef }
func (NameAndTypeConstant) Tag() Tag        { return TagNameAndType }
func (MethodHandleConstant) Tag() Tag       { return TagMethodHandle }
func (MethodTypeConstant) Tag() Tag         { return TagMethodType }
func (DynamicConstant) Tag() Tag            { return TagDynamic }
func (InvokeDynamicConstant) Tag() Tag      { return TagInvokeDynamic }
func (ModuleConstant) Tag() Tag             { return TagModule }
func (PackageConstant) Tag() Tag            { return TagPackage }
func (ReservedConstant) Tag() Tag           { return TagReserved }

func (UTF8Constant) constant()               {}
func (IntegerConstant) constant()            {}
func (FloatConstant) constant()              {}
func (LongConstant) constant()               {}
func (DoubleConstant) constant()             {}
func (ClassConstant) constant()              {}
func (StringConstant) constant()             {}
func (FieldRefConstant) constant()           {}
func (MethodRefConstant) constant()          {}
func (InterfaceMethodRefConstant) constant() {}
func (NameAndTypeConstant) constant()        {}
func (MethodHandleConstant) constant()       {}
func (MethodTypeConstant) constant()         {}
func (DynamicConstant) constant()            {}
func (InvokeDynamicConstant) constant()      {}
func (ModuleConstant) constant()             {}
func (PackageConstant) constant()            {}
func (ReservedConstant) constant()           {}

// ConstantPool holds the entries of a class file's constant pool. Slot i of the slice holds
// constant pool index i+1.
type ConstantPool []Constant

// Len returns the number of slots in the pool, including reserved slots.
func (p ConstantPool) Len() int {
	return len(p)
}

// Entry returns the constant at the 1-based index. Reserved slots and out of range indices
// return an *IndexResolutionError.
func (p ConstantPool) Entry(index uint16) (Constant, error) {
	if index == 0 || int(index) > len(p) {
		return nil, &IndexResolutionError{Index: index}
	}
	c := p[index-1]
	if c.Tag() == TagReserved {
		return nil, &IndexResolutionError{Index: index, Got: TagReserved}
	}
	return c, nil
}

func (p ConstantPool) utf8(index uint16) (UTF8Constant, error) {
	c, err := p.Entry(index)
	if err != nil {
		return UTF8Constant{}, withWant(err, TagUTF8)
	}
	u, ok := c.(UTF8Constant)
	if !ok {
		return UTF8Constant{}, &IndexResolutionError{Index: index, Want: TagUTF8, Got: c.Tag()}
	}
	return u, nil
}

// UTF8 resolves index to the display text of a Utf8 constant.
func (p ConstantPool) UTF8(index uint16) (string, error) {
	u, err := p.utf8(index)
	if err != nil {
		return "", err
	}
	return u.Text(), nil
}

// ClassName resolves index through a Class constant to its internal name, e.g. "java/lang/Object".
func (p ConstantPool) ClassName(index uint16) (string, error) {
	c, err := p.Entry(index)
	if err != nil {
		return "", withWant(err, TagClass)
	}
	class, ok := c.(ClassConstant)
	if !ok {
		return "", &IndexResolutionError{Index: index, Want: TagClass, Got: c.Tag()}
	}
	return p.UTF8(class.NameIndex)
}

// NameAndType resolves index to the name and descriptor of a NameAndType constant.
func (p ConstantPool) NameAndType(index uint16) (name, descriptor string, err error) {
	c, err := p.Entry(index)
	if err != nil {
		return "", "", withWant(err, TagNameAndType)
	}
	nt, ok := c.(NameAndTypeConstant)
	if !ok {
		return "", "", &IndexResolutionError{Index: index, Want: TagNameAndType, Got: c.Tag()}
	}
	if name, err = p.UTF8(nt.NameIndex); err != nil {
		return "", "", err
	}
	if descriptor, err = p.UTF8(nt.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

func withWant(err error, want Tag) error {
	if ire, ok := err.(*IndexResolutionError); ok {
		ire.Want = want
	}
	return err
}
