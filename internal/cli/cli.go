package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Import    *ImportCommand
	List      *ListCommand
	Status    *StatusCommand
	Markers   *MarkersCommand
	Detect    *DetectCommand
	Refine    *RefineCommand
	RefineAll *RefineAllCommand
	Session   *SessionCommand
	Purge     *PurgeCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "onset"
	parser.LongDescription = "Seismic arrival picking: STA/LTA detection, AR-AIC onset refinement and an undoable marker ledger."

	cmds := &commands{
		Import:    &ImportCommand{globals: &globals, version: version},
		List:      &ListCommand{globals: &globals, version: version},
		Status:    &StatusCommand{globals: &globals, version: version},
		Markers:   &MarkersCommand{globals: &globals, version: version},
		Detect:    &DetectCommand{globals: &globals, version: version},
		Refine:    &RefineCommand{globals: &globals, version: version},
		RefineAll: &RefineAllCommand{globals: &globals, version: version},
		Session:   &SessionCommand{globals: &globals, version: version},
		Purge:     &PurgeCommand{globals: &globals, version: version},
	}

	parser.AddCommand("import", "Import a text signal", "Import a text signal (one sample per line, or whitespace/comma separated; # starts a comment) as a new record. Use - for stdin.", cmds.Import)
	parser.AddCommand("list", "List stored records", "List stored records, newest first.", cmds.List)
	parser.AddCommand("status", "Show database statistics", "Show database statistics and configuration summary.", cmds.Status)
	parser.AddCommand("markers", "Print the markers of a record", "Print the markers of a record in ledger order, or sorted for display.", cmds.Markers)
	parser.AddCommand("detect", "Run STA/LTA detection", "Run the STA/LTA detector over a record and replace its markers with the picks, refined by AR-AIC unless --no-refine.", cmds.Detect)
	parser.AddCommand("refine", "Refine one onset with AR-AIC", "Refine a marker's onset with the AR-AIC estimator, or estimate an onset near --time.", cmds.Refine)
	parser.AddCommand("refine-all", "Refine every marker with AR-AIC", "Refine every marker of a record with the AR-AIC estimator, in parallel.", cmds.RefineAll)
	parser.AddCommand("session", "Edit markers interactively", "Line-oriented shell over one record's markers with undo and redo.", cmds.Session)
	parser.AddCommand("purge", "Delete ALL onset data", "Delete ALL onset data. Destructive operation with safety prompt.", cmds.Purge)

	return parser, &globals, cmds
}

// Run is the main entry point for the onset CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("onset %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
