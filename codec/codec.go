// Copyright 2019 SpotHero
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

// Package codec encodes and decodes the primitive value types used throughout
// the shell and its query language: bytes, char, short, int, long, float,
// double, string, and json. A value's type is either supplied explicitly
// (zget -t, zput -t) or guessed from its textual literal.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Type names a primitive value type known to the codec.
type Type string

// Supported value types.
const (
	Bytes  Type = "bytes"
	Char   Type = "char"
	Short  Type = "short"
	Int    Type = "int"
	Long   Type = "long"
	Float  Type = "float"
	Double Type = "double"
	String Type = "string"
	Text   Type = "text"
	JSON   Type = "json"
)

// ErrInvalidType is returned when a Type tag is not one of the supported types.
var ErrInvalidType = xerrors.New("invalid type")

// ErrInvalidLiteral is returned when a textual literal does not match its declared type.
var ErrInvalidLiteral = xerrors.New("invalid literal")

var hexBytePattern = regexp.MustCompile(`^[0-9a-fA-F]{2}(\.[0-9a-fA-F]{2})*$`)
var doublePattern = regexp.MustCompile(`^-?\d+\.\d+$`)
var longPattern = regexp.MustCompile(`^-?\d+$`)

// Guess infers the Type of an untagged literal, used by commands such as zput
// when no explicit -t flag is given. Precedence: double, then long, then
// dotted-hex bytes, then string.
func Guess(literal string) Type {
	switch {
	case doublePattern.MatchString(literal):
		return Double
	case longPattern.MatchString(literal):
		return Long
	case hexBytePattern.MatchString(literal):
		return Bytes
	default:
		return String
	}
}

// Encode converts a textual literal of the given Type into its byte representation.
func Encode(literal string, t Type) ([]byte, error) {
	switch t {
	case Bytes:
		return encodeBytes(literal)
	case Char:
		return encodeChar(literal)
	case Short:
		return encodeInt(literal, 16, 2)
	case Int:
		return encodeInt(literal, 32, 4)
	case Long:
		return encodeInt(literal, 64, 8)
	case Float:
		return encodeFloat(literal, 32)
	case Double:
		return encodeFloat(literal, 64)
	case String, Text:
		return encodeString(literal)
	case JSON:
		return encodeJSON(literal)
	default:
		return nil, xerrors.Errorf("%w: %s", ErrInvalidType, t)
	}
}

// Decode converts bytes previously produced by Encode back into their textual form.
func Decode(data []byte, t Type) (string, error) {
	switch t {
	case Bytes:
		return decodeBytes(data), nil
	case Char:
		return decodeChar(data)
	case Short:
		return decodeInt(data, 2)
	case Int:
		return decodeInt(data, 4)
	case Long:
		return decodeInt(data, 8)
	case Float:
		return decodeFloat(data, 4)
	case Double:
		return decodeFloat(data, 8)
	case String, Text:
		return string(data), nil
	case JSON:
		return decodeJSON(data)
	default:
		return "", xerrors.Errorf("%w: %s", ErrInvalidType, t)
	}
}

func encodeBytes(literal string) ([]byte, error) {
	if literal == "" {
		return []byte{}, nil
	}
	tokens := strings.Split(literal, ".")
	out := make([]byte, len(tokens))
	for i, tok := range tokens {
		if len(tok) != 2 {
			return nil, xerrors.Errorf("%w: %q is not a 2-digit hex byte", ErrInvalidLiteral, tok)
		}
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, xerrors.Errorf("%w: %q: %s", ErrInvalidLiteral, tok, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

func decodeBytes(data []byte) string {
	tokens := make([]string, len(data))
	for i, b := range data {
		tokens[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(tokens, ".")
}

func encodeChar(literal string) ([]byte, error) {
	runes := []rune(literal)
	if len(runes) == 0 {
		return nil, xerrors.Errorf("%w: empty char literal", ErrInvalidLiteral)
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(runes[0]))
	return buf, nil
}

func decodeChar(data []byte) (string, error) {
	if len(data) != 2 {
		return "", xerrors.Errorf("%w: char requires 2 bytes, got %d", ErrInvalidLiteral, len(data))
	}
	return string(rune(binary.BigEndian.Uint16(data))), nil
}

func encodeInt(literal string, bitSize, width int) ([]byte, error) {
	v, err := strconv.ParseInt(literal, 10, bitSize)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	buf := make([]byte, width)
	switch width {
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(buf, uint64(v))
	}
	return buf, nil
}

func decodeInt(data []byte, width int) (string, error) {
	if len(data) != width {
		return "", xerrors.Errorf("%w: expected %d bytes, got %d", ErrInvalidLiteral, width, len(data))
	}
	var v int64
	switch width {
	case 2:
		v = int64(int16(binary.BigEndian.Uint16(data)))
	case 4:
		v = int64(int32(binary.BigEndian.Uint32(data)))
	case 8:
		v = int64(binary.BigEndian.Uint64(data))
	}
	return strconv.FormatInt(v, 10), nil
}

func encodeFloat(literal string, bitSize int) ([]byte, error) {
	v, err := strconv.ParseFloat(literal, bitSize)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	if bitSize == 32 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return buf, nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf, nil
}

func decodeFloat(data []byte, width int) (string, error) {
	if len(data) != width {
		return "", xerrors.Errorf("%w: expected %d bytes, got %d", ErrInvalidLiteral, width, len(data))
	}
	if width == 4 {
		v := math.Float32frombits(binary.BigEndian.Uint32(data))
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(data))
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

// encodeString un-escapes standard shell-style backslash escapes before
// encoding the literal as UTF-8.
func encodeString(literal string) ([]byte, error) {
	var out bytes.Buffer
	runes := []rune(literal)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '\\':
				out.WriteByte('\\')
			case '"':
				out.WriteByte('"')
			case '\'':
				out.WriteByte('\'')
			default:
				out.WriteRune(runes[i])
			}
			continue
		}
		out.WriteRune(runes[i])
	}
	return out.Bytes(), nil
}

func encodeJSON(literal string) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(literal), &v); err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	return pretty, nil
}

func decodeJSON(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", xerrors.Errorf("%w: %s", ErrInvalidLiteral, err)
	}
	return string(pretty), nil
}
