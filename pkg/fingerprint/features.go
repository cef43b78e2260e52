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

package fingerprint

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/code-genome/jaudit/pkg/java"
)

// Category is the kind of a canonical feature. Its value is the token prefix.
type Category string

const (
	ClassName      Category = "cn"
	SuperClass     Category = "pc"
	ClassFlags     Category = "cf"
	Interface      Category = "if"
	FieldDecl      Category = "fd"
	MethodDecl     Category = "md"
	StringConstant Category = "sc"
	IntConstant    Category = "iv"
	FloatConstant  Category = "fv"
	MethodRef      Category = "mr"
	FieldRef       Category = "fr"
)

// Member names a field or method. Fields carry no descriptor. Method references and synthetic
// methods carry the full descriptor, overrides only the argument list, e.g. "(I)".
type Member struct {
	Owner      string
	Name       string
	Descriptor string
}

// Feature is one canonical, compiler-stable fact about a class.
type Feature struct {
	Category Category
	Value    string
	// Member is the target of MethodRef and FieldRef features and zero otherwise.
	Member Member
}

// Token renders the feature as "<prefix>:<value>".
func (f Feature) Token() string {
	return string(f.Category) + ":" + f.Value
}

// FeatureSet is an unordered set of features.
type FeatureSet map[Feature]struct{}

func (s FeatureSet) Add(f Feature) {
	s[f] = struct{}{}
}

// Tokens returns the distinct tokens of the features accepted by keep, sorted. A nil keep accepts
// all.
func (s FeatureSet) Tokens(keep func(Feature) bool) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for f := range s {
		if keep != nil && !keep(f) {
			continue
		}
		token := f.Token()
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// ClassFeatures is the result of extracting one class.
type ClassFeatures struct {
	Name string
	// Skipped is set for synthetic classes and module descriptors. Their Features are empty.
	Skipped  bool
	Features FeatureSet
	// SyntheticFields and SyntheticMethods are compiler generated members declared by the class.
	// Fields carry no descriptor.
	SyntheticFields  []Member
	SyntheticMethods []Member
	// Overrides are declared methods that override a universal java/lang/Object method.
	Overrides []Member
}

// objectMethods are the methods every class inherits from java/lang/Object.
var objectMethods = map[string]bool{
	"clone":     true,
	"equals":    true,
	"finalize":  true,
	"getClass":  true,
	"hashCode":  true,
	"notify":    true,
	"notifyAll": true,
	"toString":  true,
}

const syntheticMethodMask = java.AccSynthetic | java.AccBridge

// ExtractFeatures derives the canonical features of cf.
func ExtractFeatures(cf *java.ClassFile) (*ClassFeatures, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	out := &ClassFeatures{Name: name, Features: FeatureSet{}}
	if cf.AccessFlags&java.AccSynthetic != 0 || name == java.ModuleInfoClassName {
		out.Skipped = true
		return out, nil
	}
	add := func(c Category, v string) {
		out.Features.Add(Feature{Category: c, Value: v})
	}

	add(ClassName, name)
	super, ok, err := cf.SuperClassName()
	if err != nil {
		return nil, err
	}
	if ok {
		add(SuperClass, super)
	}
	add(ClassFlags, strconv.Itoa(int(cf.AccessFlags)))

	interfaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, err
	}
	for _, i := range interfaces {
		add(Interface, i)
	}

	fields, err := cf.Fields()
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.AccessFlags&java.AccSynthetic != 0 {
			out.SyntheticFields = append(out.SyntheticFields, Member{Owner: name, Name: f.Name})
			continue
		}
		add(FieldDecl, declaration(f))
	}

	methods, err := cf.Methods()
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		if objectMethods[m.Name] {
			out.Overrides = append(out.Overrides, Member{Owner: name, Name: m.Name, Descriptor: java.StripReturnType(m.Descriptor)})
		}
		if m.AccessFlags&syntheticMethodMask != 0 {
			out.SyntheticMethods = append(out.SyntheticMethods, Member{Owner: name, Name: m.Name, Descriptor: m.Descriptor})
			continue
		}
		add(MethodDecl, declaration(m))
	}

	strs, err := cf.Strings()
	if err != nil {
		return nil, err
	}
	for _, s := range strs {
		add(StringConstant, s)
	}
	for _, v := range cf.IntConstants() {
		add(IntConstant, strconv.FormatInt(v, 10))
	}
	for _, v := range cf.FloatConstants() {
		add(FloatConstant, formatFloat(v))
	}

	mrefs, err := cf.MethodReferences()
	if err != nil {
		return nil, err
	}
	for _, r := range mrefs {
		if r.Name == "$values" {
			continue
		}
		out.Features.Add(Feature{
			Category: MethodRef,
			Value:    r.Class + "." + r.Name + ";" + java.StripReturnType(r.Descriptor),
			Member:   Member{Owner: r.Class, Name: r.Name, Descriptor: r.Descriptor},
		})
	}

	frefs, err := cf.FieldReferences()
	if err != nil {
		return nil, err
	}
	for _, r := range frefs {
		if strings.Contains(r.Name, "$SwitchMap$") {
			continue
		}
		out.Features.Add(Feature{
			Category: FieldRef,
			Value:    r.Class + "." + r.Name + ";" + r.Descriptor,
			Member:   Member{Owner: r.Class, Name: r.Name},
		})
	}
	return out, nil
}

func declaration(d java.Declaration) string {
	return d.Name + ";" + d.Descriptor + ";" + strconv.Itoa(int(d.AccessFlags))
}

// formatFloat renders v with four decimals. Non-finite values use lowercase names.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
