package leak

import (
	"fmt"
	"strconv"
	"strings"
)

// NoOptions is the placeholder the launcher passes when no options are set.
const NoOptions = "-"

// Usage is printed for the help option and after an invalid option.
const Usage = `File leak detector options (comma separated):
  help            print this message and exit
  threshold=N     dump open descriptors once their count exceeds N
  trace           log every open and close
  trace=PATH      append every open and close to PATH
  dumpdir=PATH    write threshold dumps to PATH instead of the log
`

// Options configures an installed detector.
type Options struct {
	Help      bool
	Threshold int
	Trace     bool
	TracePath string
	DumpDir   string
}

// ParseOptions parses a comma separated option string. Empty and "-" mean
// no options.
func ParseOptions(raw string) (Options, error) {
	var o Options
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == NoOptions {
		return o, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, hasValue := strings.Cut(item, "=")

		switch key {
		case "help":
			o.Help = true
		case "threshold":
			n, err := strconv.Atoi(value)
			if !hasValue || err != nil || n <= 0 {
				return Options{}, fmt.Errorf("invalid threshold %q: must be a positive integer", value)
			}
			o.Threshold = n
		case "trace":
			o.Trace = true
			if hasValue {
				if value == "" {
					return Options{}, fmt.Errorf("trace= requires a path")
				}
				o.TracePath = value
			}
		case "dumpdir":
			if value == "" {
				return Options{}, fmt.Errorf("dumpdir requires a path")
			}
			o.DumpDir = value
		default:
			return Options{}, fmt.Errorf("unknown option %q", item)
		}
	}
	return o, nil
}

// String renders o back into option syntax.
func (o Options) String() string {
	var parts []string
	if o.Help {
		parts = append(parts, "help")
	}
	if o.Threshold > 0 {
		parts = append(parts, "threshold="+strconv.Itoa(o.Threshold))
	}
	switch {
	case o.TracePath != "":
		parts = append(parts, "trace="+o.TracePath)
	case o.Trace:
		parts = append(parts, "trace")
	}
	if o.DumpDir != "" {
		parts = append(parts, "dumpdir="+o.DumpDir)
	}
	if len(parts) == 0 {
		return NoOptions
	}
	return strings.Join(parts, ",")
}
