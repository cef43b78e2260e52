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

package java_test

import (
	"bytes"
	"fmt"
	"testing"
	"testing/iotest"

	"github.com/code-genome/jaudit/pkg/java"
	"github.com/code-genome/jaudit/pkg/java/classtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleClass() *classtest.Builder {
	b := classtest.New("org/example/Widget", "java/lang/Object")
	b.Interface("java/io/Serializable").Interface("java/lang/Runnable")
	b.Field(java.AccPrivate, "count", "I")
	b.Field(java.AccPrivate|java.AccStatic|java.AccFinal, "NAME", "Ljava/lang/String;")
	b.Method(java.AccPublic, "<init>", "()V", []byte{0x2a, 0xb7, 0x00, 0x01, 0xb1})
	b.Method(java.AccPublic, "run", "()V", []byte{0xb1})
	b.StringLiteral("hello")
	b.Integer(-42)
	b.Float(1.5)
	b.Long(1 << 40)
	b.Double(2.25)
	b.MethodRef("java/lang/Object", "<init>", "()V")
	b.FieldRef("org/example/Widget", "count", "I")
	b.Attribute("SourceFile", []byte{0x00, 0x01})
	return b
}

func TestParseClassBytes(t *testing.T) {
	cf, err := java.ParseClassBytes(sampleClass().Bytes())
	require.NoError(t, err)

	assert.Equal(t, uint16(52), cf.MajorVersion)
	assert.Equal(t, uint16(0x0021), cf.AccessFlags)

	name, err := cf.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "org/example/Widget", name)

	super, ok, err := cf.SuperClassName()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "java/lang/Object", super)

	pkg, err := cf.PackageName()
	require.NoError(t, err)
	assert.Equal(t, "org/example", pkg)

	interfaces, err := cf.InterfaceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"java/io/Serializable", "java/lang/Runnable"}, interfaces)

	fields, err := cf.Fields()
	require.NoError(t, err)
	assert.Equal(t, []java.Declaration{
		{Name: "count", Descriptor: "I", AccessFlags: java.AccPrivate},
		{Name: "NAME", Descriptor: "Ljava/lang/String;", AccessFlags: 0x001a},
	}, fields)

	methods, err := cf.Methods()
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "run", methods[1].Name)
	require.Len(t, cf.MethodInfo[0].Attributes, 1)
	assert.Equal(t, []byte{0x2a, 0xb7, 0x00, 0x01, 0xb1}, cf.MethodInfo[0].Attributes[0].Info)

	strs, err := cf.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, strs)

	assert.Equal(t, []int64{-42, 1 << 40}, cf.IntConstants())
	assert.Equal(t, []float64{1.5, 2.25}, cf.FloatConstants())

	mrefs, err := cf.MethodReferences()
	require.NoError(t, err)
	assert.Equal(t, []java.Reference{{Class: "java/lang/Object", Name: "<init>", Descriptor: "()V"}}, mrefs)

	frefs, err := cf.FieldReferences()
	require.NoError(t, err)
	assert.Equal(t, []java.Reference{{Class: "org/example/Widget", Name: "count", Descriptor: "I"}}, frefs)

	require.Len(t, cf.Attributes, 1)
	sourceFile, err := cf.ConstantPool.UTF8(cf.Attributes[0].NameIndex)
	require.NoError(t, err)
	assert.Equal(t, "SourceFile", sourceFile)
}

func TestParseClass_FromReader(t *testing.T) {
	t.Run("reads the whole stream", func(t *testing.T) {
		cf, err := java.ParseClass(iotest.OneByteReader(bytes.NewReader(sampleClass().Bytes())))
		require.NoError(t, err)
		name, err := cf.ClassName()
		require.NoError(t, err)
		assert.Equal(t, "org/example/Widget", name)
	})

	t.Run("propagates read errors", func(t *testing.T) {
		expected := errors.New("boom")
		_, err := java.ParseClass(iotest.ErrReader(expected))
		require.Error(t, err)
		assert.True(t, errors.Is(err, expected))
		assert.False(t, java.IsMalformedInput(err))
	})
}

func TestParseClassBytes_Malformed(t *testing.T) {
	valid := sampleClass().Bytes()

	for _, tc := range []struct {
		name  string
		input []byte
	}{{
		name:  "empty input",
		input: nil,
	}, {
		name:  "shorter than magic",
		input: []byte{0xCA, 0xFE, 0xBA},
	}, {
		name:  "wrong magic",
		input: append([]byte{0xCA, 0xFE, 0xBA, 0xBF}, valid[4:]...),
	}, {
		name:  "magic only",
		input: valid[:4],
	}, {
		name:  "truncated constant pool",
		input: valid[:20],
	}, {
		name:  "truncated before final attributes",
		input: valid[:len(valid)-3],
	}} {
		t.Run(tc.name, func(t *testing.T) {
			cf, err := java.ParseClassBytes(tc.input)
			require.Error(t, err)
			assert.Nil(t, cf)
			assert.True(t, java.IsMalformedInput(err), "expected malformed input error, got %v", err)
		})
	}
}

func TestParseClassBytes_UnrecognisedTag(t *testing.T) {
	b := classtest.New("A", "")
	b.Raw(2, 0x00, 0x00)
	_, err := java.ParseClassBytes(b.Bytes())
	var malformed *java.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Reason, "unrecognised constant pool tag 2")
}

func TestParseClassBytes_AttributeLengthBeyondInput(t *testing.T) {
	b := classtest.New("A", "")
	b.Attribute("Custom", []byte{1, 2, 3, 4})
	bs := b.Bytes()
	// chop the body but keep the declared length
	_, err := java.ParseClassBytes(bs[:len(bs)-2])
	assert.True(t, java.IsMalformedInput(err))
}

func TestConstantPool_WideConstantsReserveNextSlot(t *testing.T) {
	b := classtest.New("A", "")
	longIndex := b.Long(7)
	doubleIndex := b.Double(0.5)
	after := b.StringLiteral("after")
	cf, err := java.ParseClassBytes(b.Bytes())
	require.NoError(t, err)

	for _, index := range []uint16{longIndex, doubleIndex} {
		c, err := cf.ConstantPool.Entry(index)
		require.NoError(t, err)
		assert.Contains(t, []java.Tag{java.TagLong, java.TagDouble}, c.Tag())

		_, err = cf.ConstantPool.Entry(index + 1)
		var ire *java.IndexResolutionError
		require.True(t, errors.As(err, &ire))
		assert.Equal(t, java.TagReserved, ire.Got)

		_, err = cf.ConstantPool.UTF8(index + 1)
		assert.True(t, java.IsIndexResolution(err))
		_, err = cf.ConstantPool.ClassName(index + 1)
		assert.True(t, java.IsIndexResolution(err))
	}

	c, err := cf.ConstantPool.Entry(after)
	require.NoError(t, err)
	assert.Equal(t, java.TagString, c.Tag())
	assert.Equal(t, []int64{7}, cf.IntConstants())
	assert.Equal(t, []float64{0.5}, cf.FloatConstants())
}

func TestConstantPool_AllTagsDecode(t *testing.T) {
	b := classtest.New("A", "java/lang/Object")
	handle := b.MethodHandle(6, b.MethodRef("A", "bootstrap", "()V"))
	b.MethodType("(I)V")
	b.InvokeDynamic(0, "apply", "()Ljava/util/function/Function;")
	b.Dynamic(0, "constant", "I")
	b.InterfaceMethodRef("java/util/List", "size", "()I")
	b.Module("java.base")
	b.Package("org/example")
	cf, err := java.ParseClassBytes(b.Bytes())
	require.NoError(t, err)

	tags := map[java.Tag]bool{}
	for _, c := range cf.ConstantPool {
		tags[c.Tag()] = true
	}
	for _, tag := range []java.Tag{
		java.TagUTF8, java.TagClass, java.TagMethodRef, java.TagNameAndType, java.TagMethodHandle,
		java.TagMethodType, java.TagInvokeDynamic, java.TagDynamic, java.TagInterfaceMethodRef,
		java.TagModule, java.TagPackage,
	} {
		assert.True(t, tags[tag], "missing tag %s", tag)
	}

	c, err := cf.ConstantPool.Entry(handle)
	require.NoError(t, err)
	assert.Equal(t, java.MethodHandleConstant{ReferenceKind: 6, ReferenceIndex: handle - 1}, c)

	// interface method references are not method references
	refs, err := cf.MethodReferences()
	require.NoError(t, err)
	assert.Equal(t, []java.Reference{{Class: "A", Name: "bootstrap", Descriptor: "()V"}}, refs)
}

func TestConstantPool_TypeMismatch(t *testing.T) {
	b := classtest.New("A", "")
	intIndex := b.Integer(3)
	cf, err := java.ParseClassBytes(b.Bytes())
	require.NoError(t, err)

	_, err = cf.ConstantPool.ClassName(intIndex)
	var ire *java.IndexResolutionError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, java.TagClass, ire.Want)
	assert.Equal(t, java.TagInteger, ire.Got)
	assert.Equal(t, fmt.Sprintf("constant pool index %d holds Integer, expected Class", intIndex), ire.Error())

	_, err = cf.ConstantPool.UTF8(0)
	assert.True(t, java.IsIndexResolution(err))
	_, err = cf.ConstantPool.UTF8(uint16(cf.ConstantPool.Len() + 1))
	assert.True(t, java.IsIndexResolution(err))

	cf.ThisClass = intIndex
	_, err = cf.ClassName()
	assert.True(t, java.IsIndexResolution(err))
}

func TestSuperClassName_NoSuperclass(t *testing.T) {
	cf, err := java.ParseClassBytes(classtest.New("java/lang/Object", "").Bytes())
	require.NoError(t, err)
	_, ok, err := cf.SuperClassName()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStrings(t *testing.T) {
	b := classtest.New("A", "")
	b.StringLiteral("plain")
	b.StringLiteral("\x01 and \x01")
	b.StringLiteral("\x01")
	b.UTF8Bytes([]byte{'o', 'k', 0xff})
	cf, err := java.ParseClassBytes(b.Bytes())
	require.NoError(t, err)

	strs, err := cf.Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "\x01"}, strs)
}

func TestUTF8Constant_Text(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input []byte
		want  string
	}{{
		name:  "plain ascii",
		input: []byte("hello"),
		want:  "hello",
	}, {
		name:  "encoded NUL",
		input: []byte("a\xc0\x80b"),
		want:  "a\x00b",
	}, {
		name:  "two encoded NULs",
		input: []byte("a\xc0\x80\xc0\x80b"),
		want:  "a\x00\x00b",
	}, {
		name:  "surrogate pair",
		input: []byte("x\xed\xa0\xbd\xed\xb8\x80"),
		want:  "x\U0001F600",
	}, {
		name:  "unpaired high surrogate",
		input: []byte("\xed\xa0\xbdz"),
		want:  "\uFFFDz",
	}, {
		name:  "unpaired low surrogate",
		input: []byte("\xed\xb8\x80"),
		want:  "\uFFFD",
	}, {
		name:  "invalid byte",
		input: []byte{'o', 'k', 0xff},
		want:  "ok\uFFFD",
	}, {
		name:  "each invalid byte is replaced",
		input: []byte{'o', 0xff, 0xfe, 'k'},
		want:  "o\uFFFD\uFFFDk",
	}, {
		name:  "truncated sequence",
		input: []byte{'a', 0xe4, 0xb8},
		want:  "a\uFFFD\uFFFD",
	}} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, java.UTF8Constant{Bytes: tc.input}.Text())
		})
	}

	t.Run("distinct encodings stay distinct", func(t *testing.T) {
		one := java.UTF8Constant{Bytes: []byte("a\xc0\x80b")}.Text()
		two := java.UTF8Constant{Bytes: []byte("a\xc0\x80\xc0\x80b")}.Text()
		assert.NotEqual(t, one, two)
	})
}

func TestParseClassBytes_WideConstantInLastSlot(t *testing.T) {
	b := classtest.Empty()
	b.SetThis("A")
	b.Long(1)
	bs := b.Bytes()
	// drop the reserved slot from the declared count: pool count lives at bytes 8-9
	bs[9]--
	cf, err := java.ParseClassBytes(bs)
	require.NoError(t, err)
	assert.Equal(t, int(bs[9])-1, cf.ConstantPool.Len())
}
