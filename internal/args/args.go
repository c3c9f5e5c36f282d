// Package args splits a raw command line into the three disjoint groups it
// can address: flags for this tool, passthrough arguments for cargo, and
// arguments for the executable that will eventually run on the device.
//
// All three groups share dash-prefixed syntax and cargo's own flag set is
// open-ended, so the split is boundary detection over a left-to-right scan,
// never a flag registry:
//
//   - tool flags are consumed only until the first unrecognized token or the
//     first literal "--", whichever comes first
//   - from there tokens are cargo passthrough until the next "--"
//   - everything after that second separator belongs to the executable,
//     including any further "--" tokens, which are inert
//
// A tool flag spelled after the boundary is deliberately not re-claimed: it
// is forwarded to cargo verbatim, so a cargo flag that happens to share a
// spelling with ours is never swallowed.
package args

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies how an invocation is routed.
type Kind int

const (
	Build Kind = iota
	Run
	Test
	Help
	// Passthrough covers any subcommand this tool does not recognize; the
	// whole tail is handed to cargo unmodified.
	Passthrough
)

func (k Kind) String() string {
	switch k {
	case Build:
		return "build"
	case Run:
		return "run"
	case Test:
		return "test"
	case Help:
		return "help"
	case Passthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// DefaultRetries is the connection attempt budget when --retries is absent.
const DefaultRetries uint = 3

// DeployOptions carries the flags consumed by this tool itself.
type DeployOptions struct {
	// Address of the target device. Empty means auto-discover.
	Address string

	// Argv0 overrides the executable's 0th argument on the device.
	Argv0 string

	// Server keeps the device link listening after a successful transfer.
	Server bool

	// Watch re-runs the build and deploy cycle when sources change.
	Watch bool

	// Retries bounds additional connection attempts after the first.
	Retries uint

	ShowHelp    bool
	ShowVersion bool
}

// Invocation is the fully classified command line.
type Invocation struct {
	Kind Kind

	// Name is the raw subcommand token; meaningful for Passthrough.
	Name string

	Deploy DeployOptions

	// BuildArgs are forwarded to cargo in order.
	BuildArgs []string

	// ExecArgs are forwarded to the executable running on the device.
	ExecArgs []string

	// Tail is the original unclassified token list after the subcommand,
	// preserved so Passthrough can collapse the split back verbatim.
	Tail []string
}

// ErrAmbiguous reports malformed tool-flag usage, such as a value-taking
// flag at end of input.
var ErrAmbiguous = errors.New("ambiguous arguments")

func ambiguousf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrAmbiguous, fmt.Sprintf(format, a...))
}

// Classify parses the token list following the program name. tokens[0] is
// the subcommand; an empty list routes to help.
func Classify(tokens []string) (*Invocation, error) {
	if len(tokens) == 0 {
		return &Invocation{Kind: Help, Deploy: defaultDeploy()}, nil
	}

	name := tokens[0]
	tail := tokens[1:]

	inv := &Invocation{
		Name:   name,
		Deploy: defaultDeploy(),
		Tail:   append([]string(nil), tail...),
	}

	switch name {
	case "build":
		inv.Kind = Build
	case "run":
		inv.Kind = Run
	case "test":
		inv.Kind = Test
	case "help", "-h", "--help":
		inv.Kind = Help
		return inv, nil
	default:
		inv.Kind = Passthrough
		// No tool semantics apply: cargo receives the tail as-is.
		inv.BuildArgs = inv.Tail
		return inv, nil
	}

	if err := inv.splitTail(tail); err != nil {
		return nil, err
	}
	return inv, nil
}

func defaultDeploy() DeployOptions {
	return DeployOptions{Retries: DefaultRetries}
}

// splitTail runs the three-region scan over the tokens after a recognized
// subcommand.
func (inv *Invocation) splitTail(tail []string) error {
	const (
		regionTool = iota
		regionCargo
		regionExec
	)
	region := regionTool

	i := 0
	for i < len(tail) {
		tok := tail[i]

		switch region {
		case regionTool:
			if tok == "--" {
				region = regionCargo
				i++
				continue
			}
			consumed, n, err := inv.consumeToolFlag(tail, i)
			if err != nil {
				return err
			}
			if consumed {
				i += n
				continue
			}
			// Boundary: this token and everything up to the next "--"
			// belongs to cargo, even if a later token spells a tool flag.
			region = regionCargo
			inv.BuildArgs = append(inv.BuildArgs, tok)
			i++

		case regionCargo:
			if tok == "--" {
				region = regionExec
				i++
				continue
			}
			inv.BuildArgs = append(inv.BuildArgs, tok)
			i++

		case regionExec:
			// Further "--" tokens are plain content here.
			inv.ExecArgs = append(inv.ExecArgs, tok)
			i++
		}
	}
	return nil
}

// consumeToolFlag tries to claim tail[i] (and a value, for value-taking
// flags) as a flag of this tool. It reports whether the token was claimed
// and how many tokens were used.
func (inv *Invocation) consumeToolFlag(tail []string, i int) (bool, int, error) {
	tok := tail[i]
	flag, inline, hasInline := strings.Cut(tok, "=")

	value := func(name string) (string, int, error) {
		if hasInline {
			return inline, 1, nil
		}
		if i+1 >= len(tail) {
			return "", 0, ambiguousf("%s requires a value", name)
		}
		return tail[i+1], 2, nil
	}

	deployFlags := inv.Kind == Run || inv.Kind == Test

	switch flag {
	case "--address", "-a":
		if !deployFlags {
			return false, 0, nil
		}
		v, n, err := value(flag)
		if err != nil {
			return false, 0, err
		}
		inv.Deploy.Address = v
		return true, n, nil

	case "--argv0", "-0":
		if !deployFlags {
			return false, 0, nil
		}
		v, n, err := value(flag)
		if err != nil {
			return false, 0, err
		}
		inv.Deploy.Argv0 = v
		return true, n, nil

	case "--retries":
		if !deployFlags {
			return false, 0, nil
		}
		v, n, err := value(flag)
		if err != nil {
			return false, 0, err
		}
		retries, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return false, 0, ambiguousf("--retries wants a non-negative integer, got %q", v)
		}
		inv.Deploy.Retries = uint(retries)
		return true, n, nil

	case "--server", "-s":
		if !deployFlags {
			return false, 0, nil
		}
		inv.Deploy.Server = true
		return true, 1, nil

	case "--watch", "-w":
		if !deployFlags {
			return false, 0, nil
		}
		inv.Deploy.Watch = true
		return true, 1, nil

	case "--help", "-h":
		inv.Deploy.ShowHelp = true
		return true, 1, nil

	case "--version", "-V":
		inv.Deploy.ShowVersion = true
		return true, 1, nil
	}

	return false, 0, nil
}
