package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config      string `long:"config" description:"Path to config file" default:""`
	DBPath      string `long:"db" description:"Path to the SQLite database (overrides config)"`
	MetricsAddr string `long:"metrics-addr" description:"Serve Prometheus metrics on this address while the command runs"`
	JSON        bool   `long:"json" description:"Output in JSON format"`
	Verbose     bool   `long:"verbose" description:"Enable verbose output"`
	Version     bool   `long:"version" description:"Show version and exit"`
}

// ImportCommand stores a text signal as a new record.
type ImportCommand struct {
	Name string  `long:"name" description:"Record name (defaults to the file name)"`
	Rate float64 `long:"rate" description:"Sample rate in Hz" default:"100"`

	globals *GlobalFlags
	version string
	in      io.Reader // stdin when reading "-"; nil means os.Stdin
}

// ListCommand lists stored records.
type ListCommand struct {
	Limit  int `long:"limit" description:"Maximum results" default:"50"`
	Offset int `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// StatusCommand shows database statistics and configuration summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// MarkersCommand prints the markers of a record.
type MarkersCommand struct {
	Sort string `long:"sort" description:"Display sorted by field: time | cf_value | mode | method | label | comment"`
	Desc bool   `long:"desc" description:"Sort descending"`
	Runs bool   `long:"runs" description:"Also show recent detection runs"`

	globals *GlobalFlags
	version string
}

// DetectCommand runs the STA/LTA detector and replaces a record's markers.
type DetectCommand struct {
	STA      float64 `long:"sta" description:"Short window in seconds (default from config)"`
	LTA      float64 `long:"lta" description:"Long window in seconds (default from config)"`
	Thresh   float64 `long:"threshold" description:"Trigger threshold (default from config)"`
	MinGap   float64 `long:"min-gap" description:"Minimum seconds between picks (default from config)"`
	NoRefine bool    `long:"no-refine" description:"Keep coarse detector picks"`

	globals *GlobalFlags
	version string
}

// PickingFlags override the configured AR-AIC options.
type PickingFlags struct {
	Order  int     `long:"order" description:"AR model order (default from config)"`
	Step   int     `long:"step" description:"Boundary step in samples (default from config)"`
	Margin float64 `long:"margin" description:"Half-width of the search window in seconds (default from config)"`
}

// RefineCommand refines one marker, or estimates an onset near a time.
type RefineCommand struct {
	PickingFlags

	Marker string  `long:"marker" description:"Marker ID or 1-based position to refine"`
	Time   float64 `long:"time" description:"Approximate onset in seconds (instead of --marker)" default:"-1"`
	Add    bool    `long:"add" description:"With --time, append the refined pick as a new marker"`
	Curve  bool    `long:"curve" description:"Print the AIC curve"`

	globals *GlobalFlags
	version string
}

// RefineAllCommand refines every marker of a record in parallel.
type RefineAllCommand struct {
	PickingFlags

	Jobs int `long:"jobs" description:"Concurrent refinements" default:"4"`

	globals *GlobalFlags
	version string
}

// SessionCommand is an interactive ledger shell over one record.
type SessionCommand struct {
	Autosave bool `long:"autosave" description:"Save on quit without asking"`

	globals *GlobalFlags
	version string
	in      io.Reader // nil means os.Stdin
}

// PurgeCommand deletes ALL onset data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	in      io.Reader // nil means os.Stdin
}
