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
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Magic is the first four bytes of every class file.
const Magic uint32 = 0xCAFEBABE

// ModuleInfoClassName is the pseudo-class name of a module descriptor.
const ModuleInfoClassName = "module-info"

// ClassFile is the decoded structure of a single .class file. Attribute bodies, including method
// bytecode, are kept as raw bytes and never interpreted.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	ConstantPool ConstantPool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	FieldInfo    []Member
	MethodInfo   []Member
	Attributes   []Attribute
}

// Member is a field or method declaration.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute
}

// Attribute is an attribute whose body has been skipped by length.
type Attribute struct {
	NameIndex uint16
	Info      []byte
}

// Declaration is a resolved field or method declaration.
type Declaration struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
}

// Reference is a resolved field or method reference from the constant pool.
type Reference struct {
	Class      string
	Name       string
	Descriptor string
}

// ParseClass reads r to the end and decodes the content as a class file.
func ParseClass(r io.Reader) (*ClassFile, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.Wrap(err, "failed to read class file")
	}
	return ParseClassBytes(buf.Bytes())
}

// ParseClassBytes decodes b as a class file. The returned ClassFile shares memory with b, which must
// not be modified afterwards. On error the returned ClassFile is always nil.
func ParseClassBytes(b []byte) (*ClassFile, error) {
	r := &classReader{buf: b}
	magic, err := r.u4("magic")
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, malformed(0, "bad magic number 0x%08X", magic)
	}

	var cf ClassFile
	if cf.MinorVersion, err = r.u2("minor version"); err != nil {
		return nil, err
	}
	if cf.MajorVersion, err = r.u2("major version"); err != nil {
		return nil, err
	}
	count, err := r.u2("constant pool count")
	if err != nil {
		return nil, err
	}
	if count > 0 {
		cf.ConstantPool = make(ConstantPool, 0, count-1)
	}
	for len(cf.ConstantPool) < int(count)-1 {
		c, wide, err := r.constant(cf.ConstantPool)
		if err != nil {
			return nil, err
		}
		cf.ConstantPool = append(cf.ConstantPool, c)
		if wide {
			cf.ConstantPool = append(cf.ConstantPool, ReservedConstant{})
		}
	}
	// a long or double in the last slot has no room for its reserved slot
	if count > 0 && len(cf.ConstantPool) > int(count)-1 {
		cf.ConstantPool = cf.ConstantPool[:count-1]
	}

	if err := r.need(6, "class header"); err != nil {
		return nil, err
	}
	cf.AccessFlags, _ = r.u2("")
	cf.ThisClass, _ = r.u2("")
	cf.SuperClass, _ = r.u2("")

	interfaceCount, err := r.u2("interface count")
	if err != nil {
		return nil, err
	}
	if cf.Interfaces, err = r.u2s(interfaceCount, "interfaces"); err != nil {
		return nil, err
	}
	if cf.FieldInfo, err = r.members("field"); err != nil {
		return nil, err
	}
	if cf.MethodInfo, err = r.members("method"); err != nil {
		return nil, err
	}
	if cf.Attributes, err = r.attributes("class"); err != nil {
		return nil, err
	}
	return &cf, nil
}

// ClassName returns the internal name of the class, e.g. "org/example/Foo".
func (c *ClassFile) ClassName() (string, error) {
	return c.ConstantPool.ClassName(c.ThisClass)
}

// SuperClassName returns the internal name of the superclass. The bool is false for classes
// without a superclass, such as java/lang/Object and module descriptors.
func (c *ClassFile) SuperClassName() (string, bool, error) {
	if c.SuperClass == 0 {
		return "", false, nil
	}
	name, err := c.ConstantPool.ClassName(c.SuperClass)
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// PackageName returns the package part of the class name, or "" for the default package.
func (c *ClassFile) PackageName() (string, error) {
	name, err := c.ClassName()
	if err != nil {
		return "", err
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i], nil
	}
	return "", nil
}

func (c *ClassFile) InterfaceNames() ([]string, error) {
	out := make([]string, 0, len(c.Interfaces))
	for _, index := range c.Interfaces {
		name, err := c.ConstantPool.ClassName(index)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (c *ClassFile) Fields() ([]Declaration, error) {
	return c.declarations(c.FieldInfo)
}

func (c *ClassFile) Methods() ([]Declaration, error) {
	return c.declarations(c.MethodInfo)
}

func (c *ClassFile) declarations(members []Member) ([]Declaration, error) {
	out := make([]Declaration, 0, len(members))
	for _, m := range members {
		name, err := c.ConstantPool.UTF8(m.NameIndex)
		if err != nil {
			return nil, err
		}
		descriptor, err := c.ConstantPool.UTF8(m.DescriptorIndex)
		if err != nil {
			return nil, err
		}
		out = append(out, Declaration{Name: name, Descriptor: descriptor, AccessFlags: m.AccessFlags})
	}
	return out, nil
}

// MethodReferences returns every Methodref constant in pool order. Interface method references
// are not included.
func (c *ClassFile) MethodReferences() ([]Reference, error) {
	var out []Reference
	for _, entry := range c.ConstantPool {
		if ref, ok := entry.(MethodRefConstant); ok {
			r, err := c.reference(ref.ClassIndex, ref.NameAndTypeIndex)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// FieldReferences returns every Fieldref constant in pool order.
func (c *ClassFile) FieldReferences() ([]Reference, error) {
	var out []Reference
	for _, entry := range c.ConstantPool {
		if ref, ok := entry.(FieldRefConstant); ok {
			r, err := c.reference(ref.ClassIndex, ref.NameAndTypeIndex)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *ClassFile) reference(classIndex, nameAndTypeIndex uint16) (Reference, error) {
	class, err := c.ConstantPool.ClassName(classIndex)
	if err != nil {
		return Reference{}, err
	}
	name, descriptor, err := c.ConstantPool.NameAndType(nameAndTypeIndex)
	if err != nil {
		return Reference{}, err
	}
	return Reference{Class: class, Name: name, Descriptor: descriptor}, nil
}

// Strings returns the text of the String constants in pool order. Strings starting with the 0x01
// tag byte are invokedynamic concatenation recipes and are left out.
func (c *ClassFile) Strings() ([]string, error) {
	var out []string
	for _, entry := range c.ConstantPool {
		s, ok := entry.(StringConstant)
		if !ok {
			continue
		}
		u, err := c.ConstantPool.utf8(s.StringIndex)
		if err != nil {
			return nil, err
		}
		if len(u.Bytes) > 1 && u.Bytes[0] == 0x01 {
			continue
		}
		out = append(out, u.Text())
	}
	return out, nil
}

// IntConstants returns the values of the Integer and Long constants in pool order.
func (c *ClassFile) IntConstants() []int64 {
	var out []int64
	for _, entry := range c.ConstantPool {
		switch v := entry.(type) {
		case IntegerConstant:
			out = append(out, int64(v.Value))
		case LongConstant:
			out = append(out, v.Value)
		}
	}
	return out
}

// FloatConstants returns the values of the Float and Double constants in pool order.
func (c *ClassFile) FloatConstants() []float64 {
	var out []float64
	for _, entry := range c.ConstantPool {
		switch v := entry.(type) {
		case FloatConstant:
			out = append(out, float64(v.Value))
		case DoubleConstant:
			out = append(out, v.Value)
		}
	}
	return out
}
