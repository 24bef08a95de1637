package executor

import (
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/resolve"
)

var tokenPattern = regexp.MustCompile(`<<[A-Za-z][A-Za-z0-9_]*>>`)

// splitArguments splits an argument string with POSIX shell quoting rules.
// Placeholders are swapped for inert markers before parsing and replaced by
// their resolved paths afterwards, so values containing spaces stay in one
// argument and never reach the shell parser.
func splitArguments(res *resolve.Resolver, arguments string) ([]string, error) {
	if strings.TrimSpace(arguments) == "" {
		return nil, nil
	}

	values := map[string]string{}
	var substErr error
	masked := tokenPattern.ReplaceAllStringFunc(arguments, func(token string) string {
		value, err := res.Substitute(token)
		if err != nil {
			if substErr == nil {
				substErr = err
			}
			return token
		}
		marker := fmt.Sprintf("MODKITARG%dX", len(values))
		values[marker] = value
		return marker
	})
	if substErr != nil {
		return nil, substErr
	}

	fields, err := shell.Fields(masked, func(string) string { return "" })
	if err != nil {
		return nil, fmt.Errorf("%w: arguments %q: %w", errors.ErrInvalidInstruction, arguments, err)
	}
	for i, f := range fields {
		for marker, value := range values {
			f = strings.ReplaceAll(f, marker, value)
		}
		fields[i] = f
	}
	return fields, nil
}
