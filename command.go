package midjourney

import (
	"strings"
	"unicode"
)

// Parameter is one "--name value" segment of a command.
type Parameter struct {
	Name  string
	Value string
}

// ParsedCommand is the structured form of a job's full command.
type ParsedCommand struct {
	Prompt     string
	Parameters []Parameter
}

// ParseCommand splits a full command on "--". The first segment is the
// prompt; every later segment is split on its first run of whitespace into a
// parameter name and value. Segments without a value are skipped, since the
// upstream formatting is not consistent enough to treat them as errors.
func ParseCommand(fullCommand string) ParsedCommand {
	segments := strings.Split(fullCommand, "--")

	cmd := ParsedCommand{
		Prompt:     strings.TrimSpace(segments[0]),
		Parameters: []Parameter{},
	}
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		i := strings.IndexFunc(seg, unicode.IsSpace)
		if i <= 0 {
			continue
		}
		value := strings.TrimSpace(seg[i:])
		if value == "" {
			continue
		}
		cmd.Parameters = append(cmd.Parameters, Parameter{Name: seg[:i], Value: value})
	}
	return cmd
}

// Get returns the value of the first parameter with the given name.
func (c ParsedCommand) Get(name string) (string, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// String renders the command back into "prompt --name value" form.
func (c ParsedCommand) String() string {
	var sb strings.Builder
	sb.WriteString(c.Prompt)
	for _, p := range c.Parameters {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("--")
		sb.WriteString(p.Name)
		sb.WriteByte(' ')
		sb.WriteString(p.Value)
	}
	return sb.String()
}
