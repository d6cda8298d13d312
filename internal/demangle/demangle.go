// Package demangle implements a minimal Itanium C++ ABI name demangler,
// used by the frame-name renderer (spec §4.J) to turn native symbol
// names beginning with "_Z" into readable signatures. Names that do
// not match that prefix pass through unchanged.
//
// This replaces the original source's use of the cpp_demangle crate
// (frame_name.rs); no Go package in the retrieved corpus wraps an
// Itanium demangler (see DESIGN.md), so this is a from-scratch,
// intentionally narrow implementation: enough to decode namespaces,
// nested names, template arguments, and built-in type codes, not a
// full ABI-compliant demangler.
package demangle

import "strings"

var builtinTypes = map[byte]string{
	'v': "void",
	'w': "wchar_t",
	'b': "bool",
	'c': "char",
	'a': "signed char",
	'h': "unsigned char",
	's': "short",
	't': "unsigned short",
	'i': "int",
	'j': "unsigned int",
	'l': "long",
	'm': "unsigned long",
	'x': "long long",
	'y': "unsigned long long",
	'f': "float",
	'd': "double",
	'e': "long double",
}

// Demangle returns the demangled form of name if it is a recognizable
// Itanium mangled name (prefixed "_Z"), or name unchanged otherwise.
func Demangle(name string) string {
	if !strings.HasPrefix(name, "_Z") {
		return name
	}
	d := &decoder{s: name[2:]}
	out, ok := d.parseEncoding()
	if !ok || d.pos != len(d.s) {
		return name
	}
	return out
}

type decoder struct {
	s   string
	pos int
	// substitution table for <name>/<nested-name> components, per the
	// Itanium ABI's compression scheme (S_, S0_, S1_, ...).
	subs []string
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.s) {
		return 0
	}
	return d.s[d.pos]
}

func (d *decoder) parseEncoding() (string, bool) {
	name, ok := d.parseName()
	if !ok {
		return "", false
	}
	// Function parameter types, if any, are decoded and rendered as a
	// comma-separated list inside "()"; a lone "void" renders as "()".
	// Decoding stops at the first parameter type this narrow decoder
	// does not recognize.
	var params []string
	for d.pos < len(d.s) {
		t, ok := d.parseType()
		if !ok {
			break
		}
		params = append(params, t)
	}
	if len(params) == 1 && params[0] == "void" {
		params = nil
	}
	return name + "(" + strings.Join(params, ", ") + ")", true
}

// parseName parses <name> ::= <nested-name> | <unscoped-name>
func (d *decoder) parseName() (string, bool) {
	if d.peek() == 'N' {
		return d.parseNestedName()
	}
	return d.parseSourceNameOrSub()
}

// parseNestedName parses N [<CV-qualifiers>] <prefix> <unqualified-name> E
func (d *decoder) parseNestedName() (string, bool) {
	d.pos++ // consume 'N'
	// skip CV-qualifiers / ref-qualifiers
	for d.pos < len(d.s) {
		switch d.peek() {
		case 'r', 'V', 'K':
			d.pos++
			continue
		}
		break
	}
	var parts []string
	for d.pos < len(d.s) && d.peek() != 'E' {
		part, ok := d.parseSourceNameOrSub()
		if !ok {
			return "", false
		}
		parts = append(parts, part)
		d.addSub(strings.Join(parts, "::"))
		if d.peek() == 'I' {
			args, ok := d.parseTemplateArgs()
			if !ok {
				return "", false
			}
			parts[len(parts)-1] += args
			d.addSub(strings.Join(parts, "::"))
		}
	}
	if d.peek() != 'E' {
		return "", false
	}
	d.pos++ // consume 'E'
	return strings.Join(parts, "::"), true
}

// parseSourceNameOrSub parses a <source-name> (length-prefixed
// identifier) or a substitution reference (S_, S0_, ...).
func (d *decoder) parseSourceNameOrSub() (string, bool) {
	if d.peek() == 'S' {
		return d.parseSubstitution()
	}
	return d.parseSourceName()
}

func (d *decoder) parseSourceName() (string, bool) {
	start := d.pos
	for d.pos < len(d.s) && d.s[d.pos] >= '0' && d.s[d.pos] <= '9' {
		d.pos++
	}
	if d.pos == start {
		return "", false
	}
	n := 0
	for _, c := range d.s[start:d.pos] {
		n = n*10 + int(c-'0')
	}
	if d.pos+n > len(d.s) {
		return "", false
	}
	name := d.s[d.pos : d.pos+n]
	d.pos += n
	return name, true
}

func (d *decoder) parseSubstitution() (string, bool) {
	if d.peek() != 'S' {
		return "", false
	}
	d.pos++
	if d.peek() == '_' {
		d.pos++
		if len(d.subs) == 0 {
			return "", false
		}
		return d.subs[0], true
	}
	start := d.pos
	for d.pos < len(d.s) && d.s[d.pos] != '_' {
		d.pos++
	}
	if d.pos >= len(d.s) {
		return "", false
	}
	idxStr := d.s[start:d.pos]
	d.pos++ // consume '_'
	idx := 0
	for _, c := range idxStr {
		if c >= '0' && c <= '9' {
			idx = idx*36 + int(c-'0') + 1
		} else if c >= 'A' && c <= 'Z' {
			idx = idx*36 + int(c-'A'+10) + 1
		} else {
			return "", false
		}
	}
	if idx >= len(d.subs) {
		return "", false
	}
	return d.subs[idx], true
}

func (d *decoder) addSub(name string) {
	d.subs = append(d.subs, name)
}

func (d *decoder) parseTemplateArgs() (string, bool) {
	if d.peek() != 'I' {
		return "", false
	}
	d.pos++
	var args []string
	for d.pos < len(d.s) && d.peek() != 'E' {
		t, ok := d.parseType()
		if !ok {
			return "", false
		}
		args = append(args, t)
	}
	if d.peek() != 'E' {
		return "", false
	}
	d.pos++
	return "<" + strings.Join(args, ", ") + ">", true
}

func (d *decoder) parseType() (string, bool) {
	if d.pos >= len(d.s) {
		return "", false
	}
	switch c := d.peek(); {
	case c == 'P':
		d.pos++
		inner, ok := d.parseType()
		if !ok {
			return "", false
		}
		return inner + "*", true
	case c == 'R':
		d.pos++
		inner, ok := d.parseType()
		if !ok {
			return "", false
		}
		return inner + "&", true
	case c == 'K':
		d.pos++
		inner, ok := d.parseType()
		if !ok {
			return "", false
		}
		return "const " + inner, true
	case c == 'N' || c == 'S':
		return d.parseName()
	default:
		if name, ok := builtinTypes[c]; ok {
			d.pos++
			return name, true
		}
		if c >= '0' && c <= '9' {
			return d.parseSourceName()
		}
	}
	return "", false
}
