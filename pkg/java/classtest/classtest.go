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

// Package classtest assembles class files for tests. Constants are appended to the pool in the
// order they are first requested, which lets tests control pool layout.
package classtest

import (
	"bytes"
	"encoding/binary"
	"math"
)

type member struct {
	flags, name, descriptor uint16
	attributes              []attribute
}

type attribute struct {
	name uint16
	body []byte
}

// Builder accumulates the parts of a class file.
type Builder struct {
	Major, Minor uint16
	AccessFlags  uint16

	pool       bytes.Buffer
	slots      uint16
	cache      map[string]uint16
	this       uint16
	super      uint16
	interfaces []uint16
	fields     []member
	methods    []member
	attributes []attribute
}

// New returns a Builder for a public class with the given internal name and superclass. An empty
// super leaves the superclass index as zero.
func New(name, super string) *Builder {
	b := Empty()
	b.AccessFlags = 0x0021
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

// Empty returns a Builder with an empty constant pool. SetThis must be called before Bytes.
func Empty() *Builder {
	return &Builder{Major: 52, cache: make(map[string]uint16)}
}

func (b *Builder) SetThis(name string) *Builder {
	b.this = b.Class(name)
	return b
}

func (b *Builder) SetSuper(name string) *Builder {
	b.super = b.Class(name)
	return b
}

func (b *Builder) add(key string, width uint16, tag byte, payload []byte) uint16 {
	if key != "" {
		if index, ok := b.cache[key]; ok {
			return index
		}
	}
	b.pool.WriteByte(tag)
	b.pool.Write(payload)
	index := b.slots + 1
	b.slots += width
	if key != "" {
		b.cache[key] = index
	}
	return index
}

func u2(vs ...uint16) []byte {
	out := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

// UTF8 adds a Utf8 constant holding s.
func (b *Builder) UTF8(s string) uint16 {
	return b.UTF8Bytes([]byte(s))
}

// UTF8Bytes adds a Utf8 constant holding raw bytes, which need not be valid UTF-8.
func (b *Builder) UTF8Bytes(raw []byte) uint16 {
	payload := append(u2(uint16(len(raw))), raw...)
	return b.add("u:"+string(raw), 1, 1, payload)
}

func (b *Builder) Class(name string) uint16 {
	nameIndex := b.UTF8(name)
	return b.add("c:"+name, 1, 7, u2(nameIndex))
}

func (b *Builder) StringLiteral(s string) uint16 {
	index := b.UTF8(s)
	return b.add("s:"+s, 1, 8, u2(index))
}

func (b *Builder) Integer(v int32) uint16 {
	return b.add("", 1, 3, binary.BigEndian.AppendUint32(nil, uint32(v)))
}

func (b *Builder) Float(v float32) uint16 {
	return b.add("", 1, 4, binary.BigEndian.AppendUint32(nil, math.Float32bits(v)))
}

func (b *Builder) Long(v int64) uint16 {
	return b.add("", 2, 5, binary.BigEndian.AppendUint64(nil, uint64(v)))
}

func (b *Builder) Double(v float64) uint16 {
	return b.add("", 2, 6, binary.BigEndian.AppendUint64(nil, math.Float64bits(v)))
}

func (b *Builder) NameAndType(name, descriptor string) uint16 {
	n, d := b.UTF8(name), b.UTF8(descriptor)
	return b.add("nt:"+name+":"+descriptor, 1, 12, u2(n, d))
}

func (b *Builder) FieldRef(class, name, descriptor string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, descriptor)
	return b.add("fr:"+class+"."+name+":"+descriptor, 1, 9, u2(c, nt))
}

func (b *Builder) MethodRef(class, name, descriptor string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, descriptor)
	return b.add("mr:"+class+"."+name+":"+descriptor, 1, 10, u2(c, nt))
}

func (b *Builder) InterfaceMethodRef(class, name, descriptor string) uint16 {
	c, nt := b.Class(class), b.NameAndType(name, descriptor)
	return b.add("imr:"+class+"."+name+":"+descriptor, 1, 11, u2(c, nt))
}

func (b *Builder) MethodHandle(kind uint8, reference uint16) uint16 {
	return b.add("", 1, 15, append([]byte{kind}, u2(reference)...))
}

func (b *Builder) MethodType(descriptor string) uint16 {
	return b.add("", 1, 16, u2(b.UTF8(descriptor)))
}

func (b *Builder) InvokeDynamic(bootstrap uint16, name, descriptor string) uint16 {
	return b.add("", 1, 18, u2(bootstrap, b.NameAndType(name, descriptor)))
}

func (b *Builder) Dynamic(bootstrap uint16, name, descriptor string) uint16 {
	return b.add("", 1, 17, u2(bootstrap, b.NameAndType(name, descriptor)))
}

func (b *Builder) Module(name string) uint16 {
	return b.add("", 1, 19, u2(b.UTF8(name)))
}

func (b *Builder) Package(name string) uint16 {
	return b.add("", 1, 20, u2(b.UTF8(name)))
}

// Raw appends an entry with an arbitrary tag and payload occupying a single slot.
func (b *Builder) Raw(tag byte, payload ...byte) uint16 {
	return b.add("", 1, tag, payload)
}

func (b *Builder) Interface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

func (b *Builder) Field(flags uint16, name, descriptor string) *Builder {
	b.fields = append(b.fields, member{flags: flags, name: b.UTF8(name), descriptor: b.UTF8(descriptor)})
	return b
}

// Method declares a method. A non-nil code slice is attached as the body of a Code attribute.
func (b *Builder) Method(flags uint16, name, descriptor string, code []byte) *Builder {
	m := member{flags: flags, name: b.UTF8(name), descriptor: b.UTF8(descriptor)}
	if code != nil {
		m.attributes = append(m.attributes, attribute{name: b.UTF8("Code"), body: code})
	}
	b.methods = append(b.methods, m)
	return b
}

// Attribute adds a class level attribute.
func (b *Builder) Attribute(name string, body []byte) *Builder {
	b.attributes = append(b.attributes, attribute{name: b.UTF8(name), body: body})
	return b
}

// Bytes encodes the class file.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0xCA, 0xFE, 0xBA, 0xBE})
	out.Write(u2(b.Minor, b.Major, b.slots+1))
	out.Write(b.pool.Bytes())
	out.Write(u2(b.AccessFlags, b.this, b.super, uint16(len(b.interfaces))))
	out.Write(u2(b.interfaces...))
	writeMembers(&out, b.fields)
	writeMembers(&out, b.methods)
	writeAttributes(&out, b.attributes)
	return out.Bytes()
}

func writeMembers(out *bytes.Buffer, members []member) {
	out.Write(u2(uint16(len(members))))
	for _, m := range members {
		out.Write(u2(m.flags, m.name, m.descriptor))
		writeAttributes(out, m.attributes)
	}
}

func writeAttributes(out *bytes.Buffer, attributes []attribute) {
	out.Write(u2(uint16(len(attributes))))
	for _, a := range attributes {
		out.Write(u2(a.name))
		out.Write(binary.BigEndian.AppendUint32(nil, uint32(len(a.body))))
		out.Write(a.body)
	}
}
