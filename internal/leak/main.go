package leak

import (
	"fmt"
	"io"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// Register makes the Default detector attachable through r.
func Register(r *agent.Registry) error {
	return r.RegisterEntryPoint(AgentName, Main)
}

// Main is the attach entry point of the Default detector.
func Main(opts string, out io.Writer) error {
	return Default.Main(opts, out)
}

// Main parses opts and installs the detector. Like a standalone tool it
// exits the process on help (0) and on invalid options (2); under an exit
// guard the refusal is returned instead.
func (d *Detector) Main(opts string, out io.Writer) error {
	o, err := ParseOptions(opts)
	if err != nil {
		_, _ = fmt.Fprintf(out, "%v\n%s", err, Usage)
		return guard.Exit(2)
	}
	if o.Help {
		_, _ = fmt.Fprint(out, Usage)
		return guard.Exit(0)
	}

	if d.Installed() {
		_, _ = fmt.Fprintf(out, "File leak detector is already installed\n")
		return nil
	}
	if err := d.Install(o); err != nil {
		_, _ = fmt.Fprintf(out, "%v\n", err)
		return err
	}
	_, _ = fmt.Fprintf(out, "File leak detector installed (options: %s)\n", o)
	return nil
}
