package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// parseFields turns key=value arguments into a profile patch. Values are
// decoded as YAML so true and 3 keep their types. Dotted keys build nested
// maps: notifications.daily=true.
func parseFields(args []string) (map[string]any, error) {
	fields := map[string]any{}
	for _, arg := range args {
		key, raw, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", arg)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if err := setPath(fields, strings.Split(key, "."), value); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func setPath(m map[string]any, path []string, value any) error {
	for i, part := range path[:len(path)-1] {
		if part == "" {
			return fmt.Errorf("invalid field name %q", strings.Join(path, "."))
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			if _, exists := m[part]; exists {
				return fmt.Errorf("field %s is not a map", strings.Join(path[:i+1], "."))
			}
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}

	last := path[len(path)-1]
	if last == "" {
		return fmt.Errorf("invalid field name %q", strings.Join(path, "."))
	}
	m[last] = value
	return nil
}

// printYAML writes v to w as YAML.
func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// readPassword prompts on stderr and reads without echo when stdin is a
// terminal. Piped input is read one line at a time.
func readPassword(prompt string, in *bufio.Reader) (string, error) {
	if stdinIsTerminal() {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
