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
	"strings"
)

// Access and property flags shared by classes, fields and methods. Some bit values carry a different
// meaning depending on where they appear, e.g. 0x0040 is ACC_VOLATILE on a field and ACC_BRIDGE on
// a method.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccNative       uint16 = 0x0100
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccStrict       uint16 = 0x0800
	AccSynthetic    uint16 = 0x1000
	AccAnnotation   uint16 = 0x2000
	AccEnum         uint16 = 0x4000
	AccModule       uint16 = 0x8000
)

// MemberKind selects which flag names apply when formatting access flags.
type MemberKind int

const (
	ClassMember MemberKind = iota
	FieldMember
	MethodMember
)

type flagName struct {
	flag uint16
	name string
}

var flagNames = map[MemberKind][]flagName{
	ClassMember: {
		{AccPublic, "public"}, {AccFinal, "final"}, {AccSuper, "super"}, {AccInterface, "interface"},
		{AccAbstract, "abstract"}, {AccSynthetic, "synthetic"}, {AccAnnotation, "annotation"},
		{AccEnum, "enum"}, {AccModule, "module"},
	},
	FieldMember: {
		{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"}, {AccStatic, "static"},
		{AccFinal, "final"}, {AccVolatile, "volatile"}, {AccTransient, "transient"},
		{AccSynthetic, "synthetic"}, {AccEnum, "enum"},
	},
	MethodMember: {
		{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"}, {AccStatic, "static"},
		{AccFinal, "final"}, {AccSynchronized, "synchronized"}, {AccBridge, "bridge"},
		{AccVarargs, "varargs"}, {AccNative, "native"}, {AccAbstract, "abstract"}, {AccStrict, "strict"},
		{AccSynthetic, "synthetic"},
	},
}

// FormatAccessFlags renders flags as space separated modifier names.
func FormatAccessFlags(flags uint16, kind MemberKind) string {
	var out []string
	for _, f := range flagNames[kind] {
		if flags&f.flag != 0 {
			out = append(out, f.name)
		}
	}
	return strings.Join(out, " ")
}
