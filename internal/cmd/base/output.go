package base

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// Output writes a JSON document indented, or verbatim when it is not JSON.
func (c *Command) Output(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		c.UI.Output(string(data))
		return
	}
	c.UI.Output(buf.String())
}

// ReadArg returns arg, or the contents of the named file when arg starts
// with '@'.
func (c *Command) ReadArg(arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "@") {
		return []byte(arg), nil
	}
	data, err := afero.ReadFile(c.Fs, arg[1:])
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", arg[1:], err)
	}
	return data, nil
}
