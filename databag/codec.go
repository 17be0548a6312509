// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package databag implements the codec for typed records carried in
// charm relation databags.
//
// A databag is a flat string-to-string map. A record is a Go struct
// whose exported fields carry json tags; every field travels as an
// independent JSON document stored under its tag name. Senders running
// a newer schema may publish keys a reader does not know about, so
// unknown keys are ignored on load rather than rejected.
package databag

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Juju maintains these keys in every relation databag. They are not
// part of any record schema and the codec never reads or writes them.
var reservedKeys = set.NewStrings(
	"ingress-address",
	"private-address",
	"egress-subnets",
)

// ErrNoData reports a databag with no record content at all, as opposed
// to content that fails validation. Callers use it to tell "peer not
// ready yet" apart from "peer sent garbage".
const ErrNoData = errors.ConstError("databag has no data")

// Load decodes the databag into the record pointed to by into, which
// must be a non-nil pointer to a struct with json-tagged fields.
//
// Every databag key matching a field tag is decoded as JSON into that
// field. Keys that match no field are ignored. A field without the
// omitempty option is required: its absence is a validation failure.
// All problems found in one pass are reported together in a single
// *ValidationError naming the offending keys.
//
// A databag containing no keys at all, reserved juju keys aside,
// returns ErrNoData.
func Load(raw map[string]string, into interface{}) error {
	v := reflect.ValueOf(into)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.NotValidf("load target %T", into)
	}
	if empty(raw) {
		return ErrNoData
	}

	problems := make(map[string]string)
	elem := v.Elem()
	for _, f := range fields(elem.Type()) {
		value, found := raw[f.key]
		if !found {
			if !f.optional {
				problems[f.key] = "required key missing"
			}
			continue
		}
		field := elem.Field(f.index)
		if err := json.Unmarshal([]byte(value), field.Addr().Interface()); err != nil {
			problems[f.key] = err.Error()
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Dump encodes the record into databag form. Fields carrying the
// omitempty option are dropped while they hold their zero value, so the
// wire content stays minimal and stable; all other fields are always
// written. The record may be a struct or a pointer to one.
func Dump(record interface{}) (map[string]string, error) {
	v := reflect.ValueOf(record)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.NotValidf("nil record")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, errors.NotValidf("record %T", record)
	}

	out := make(map[string]string)
	for _, f := range fields(v.Type()) {
		field := v.Field(f.index)
		if f.optional && field.IsZero() {
			continue
		}
		value, err := json.Marshal(field.Interface())
		if err != nil {
			return nil, errors.Annotatef(err, "encoding %q", f.key)
		}
		out[f.key] = string(value)
	}
	return out, nil
}

// Write replaces the record's schema keys in the databag with the
// encoding of record. Schema keys the encoding no longer produces are
// removed, so a shrinking schema cannot leave stale keys behind; keys
// outside the schema, reserved juju keys included, are left alone.
func Write(bag map[string]string, record interface{}) error {
	dumped, err := Dump(record)
	if err != nil {
		return errors.Trace(err)
	}
	for _, key := range Keys(record) {
		delete(bag, key)
	}
	for k, v := range dumped {
		bag[k] = v
	}
	return nil
}

// Keys returns the databag keys making up the record's schema, in field
// declaration order. The record may be a struct, a pointer to one, or a
// (possibly nil) typed pointer used purely for its type.
func Keys(record interface{}) []string {
	t := reflect.TypeOf(record)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for _, f := range fields(t) {
		keys = append(keys, f.key)
	}
	return keys
}

type fieldInfo struct {
	index    int
	key      string
	optional bool
}

func fields(t reflect.Type) []fieldInfo {
	var out []fieldInfo
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			// Unexported.
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		if reservedKeys.Contains(name) {
			continue
		}
		out = append(out, fieldInfo{
			index:    i,
			key:      name,
			optional: strings.Contains(opts, "omitempty"),
		})
	}
	return out
}

func empty(raw map[string]string) bool {
	for k := range raw {
		if !reservedKeys.Contains(k) {
			return false
		}
	}
	return true
}
