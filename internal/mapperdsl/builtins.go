package mapperdsl

import (
	"fmt"
	"strings"
)

// callBuiltin implements the builtins of spec.md §4.4: concat, uppercase,
// lowercase, capitalize, trim, print (trace log only), number, first,
// template, replace(text, match, replacement), pad(text|number, width,
// char, pos), format(fmt, args...).
func callBuiltin(ctx *Context, name string, args []Value) (Value, error) {
	switch name {
	case "concat":
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.AsString())
		}
		return Str(sb.String()), nil

	case "uppercase":
		return Str(strings.ToUpper(arg0(args))), nil

	case "lowercase":
		return Str(strings.ToLower(arg0(args))), nil

	case "capitalize":
		s := arg0(args)
		if s == "" {
			return Str(s), nil
		}
		return Str(strings.ToUpper(s[:1]) + s[1:]), nil

	case "trim":
		return Str(strings.TrimSpace(arg0(args))), nil

	case "print":
		if ctx.Trace != nil {
			ctx.Trace(arg0(args))
		}
		return Null(), nil

	case "number":
		n, err := firstNonEmpty(args).AsNumber()
		if err != nil {
			return Null(), err
		}
		return Num(n), nil

	case "first":
		for _, a := range args {
			if a.Truthy() {
				return a, nil
			}
		}
		return Null(), nil

	case "template":
		// template(name) is resolved by the caller's template registry
		// before execution reaches here in the common case; as a builtin
		// it degrades to returning its argument verbatim.
		return Str(arg0(args)), nil

	case "replace":
		if len(args) != 3 {
			return Null(), fmt.Errorf("mapperdsl: replace() takes 3 args, got %d", len(args))
		}
		return Str(strings.ReplaceAll(args[0].AsString(), args[1].AsString(), args[2].AsString())), nil

	case "pad":
		if len(args) != 4 {
			return Null(), fmt.Errorf("mapperdsl: pad() takes 4 args, got %d", len(args))
		}
		text := args[0].AsString()
		width, err := args[1].AsNumber()
		if err != nil {
			return Null(), err
		}
		char := args[2].AsString()
		if char == "" {
			char = " "
		}
		pos := args[3].AsString()
		return Str(pad(text, int(width), char[0], pos)), nil

	case "format":
		if len(args) == 0 {
			return Str(""), nil
		}
		return Str(formatTemplate(args[0].AsString(), args[1:])), nil

	default:
		return Null(), fmt.Errorf("mapperdsl: unknown builtin %q", name)
	}
}

func arg0(args []Value) string {
	if len(args) == 0 {
		return ""
	}
	return args[0].AsString()
}

func firstNonEmpty(args []Value) Value {
	for _, a := range args {
		if a.Truthy() {
			return a
		}
	}
	if len(args) > 0 {
		return args[0]
	}
	return Null()
}

// pad pads text to width with char, anchored left ("<"), right (">"), or
// centered ("^"), matching spec.md's pos∈"<|>|^" contract.
func pad(text string, width int, char byte, pos string) string {
	if len(text) >= width {
		return text
	}
	total := width - len(text)
	fill := strings.Repeat(string(char), total)
	switch pos {
	case "<":
		return text + fill
	case "^":
		left := total / 2
		right := total - left
		return strings.Repeat(string(char), left) + text + strings.Repeat(string(char), right)
	default: // ">"
		return fill + text
	}
}

// formatTemplate substitutes "{}" placeholders in order, the simple
// positional-substitution semantics spec.md describes.
func formatTemplate(tmpl string, args []Value) string {
	var sb strings.Builder
	ai := 0
	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' && i+1 < len(tmpl) && tmpl[i+1] == '}' {
			if ai < len(args) {
				sb.WriteString(args[ai].AsString())
				ai++
			}
			i += 2
			continue
		}
		sb.WriteByte(tmpl[i])
		i++
	}
	return sb.String()
}
