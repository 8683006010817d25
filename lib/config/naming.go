package config

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	NamingCamel = "camel"
	NamingSnake = "snake"
)

// ApplyNamingPolicy builds the deployed function name from the context prefix
// and the base name.
//
//	camel: "Foo" + "bar" -> "FooBar"
//	snake: "foo" + "Bar" -> "foo_bar"
func ApplyNamingPolicy(policy, contextName, functionName string) (string, error) {
	switch policy {
	case NamingCamel:
		return contextName + upperFirst(functionName), nil
	case NamingSnake:
		return contextName + "_" + strings.ToLower(functionName), nil
	case "":
		return "", ErrNamingPolicyMissing
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNamingPolicy, policy)
	}
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
