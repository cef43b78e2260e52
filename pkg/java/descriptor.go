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

var primitiveTypes = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "",
}

// FormatDescriptor renders a field or method descriptor in a readable form for diagnostics.
//
//	FormatDescriptor("(ILjava/lang/String;)V", "run")  -> "run(int,java/lang/String)"
//	FormatDescriptor("(J)Ljava/util/List;", "load")    -> "java/util/List load(long)"
//	FormatDescriptor("[[I", "grid")                    -> "int[][] grid"
//
// An empty name returns just the type list.
func FormatDescriptor(descriptor, name string) (string, error) {
	var (
		types   []string
		args    *string
		ret     string
		hasRet  bool
		dims    int
		i       int
		pending func(string)
	)
	pending = func(t string) {
		t += strings.Repeat("[]", dims)
		dims = 0
		if args != nil {
			ret, hasRet = t, true
			return
		}
		types = append(types, t)
	}
	for i < len(descriptor) {
		c := descriptor[i]
		switch {
		case c == '[':
			dims++
		case c == 'L':
			end := strings.IndexByte(descriptor[i:], ';')
			if end < 0 {
				return "", malformed(-1, "unterminated class type in descriptor %q", descriptor)
			}
			pending(descriptor[i+1 : i+end])
			i += end
		case c == '(':
			if args != nil || len(types) > 0 {
				return "", malformed(-1, "unexpected '(' in descriptor %q", descriptor)
			}
			end := strings.IndexByte(descriptor[i:], ')')
			if end < 0 {
				return "", malformed(-1, "unterminated argument list in descriptor %q", descriptor)
			}
			inner, err := FormatDescriptor(descriptor[i+1:i+end], "")
			if err != nil {
				return "", err
			}
			args = &inner
			i += end
		default:
			t, ok := primitiveTypes[c]
			if !ok {
				return "", malformed(-1, "invalid character %q in descriptor %q", c, descriptor)
			}
			pending(t)
		}
		i++
	}
	if dims > 0 {
		return "", malformed(-1, "array without element type in descriptor %q", descriptor)
	}

	if args != nil {
		if !hasRet || ret == "" {
			return name + "(" + *args + ")", nil
		}
		return ret + " " + name + "(" + *args + ")", nil
	}
	s := strings.Join(types, ",")
	switch {
	case name == "":
		return s, nil
	case s == "":
		return name, nil
	}
	return s + " " + name, nil
}

// StripReturnType truncates a method descriptor after its argument list, so "(I)V" becomes
// "(I)". Descriptors without an argument list are returned unchanged.
func StripReturnType(descriptor string) string {
	if i := strings.IndexByte(descriptor, ')'); i >= 0 {
		return descriptor[:i+1]
	}
	return descriptor
}
