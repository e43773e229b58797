package main

// Globals holds the flags every subcommand needs, threaded through each
// subcommand's Run method.
type Globals struct {
	Verbose bool   `help:"Enable verbose (debug) logging" short:"v" env:"LEAF_VERBOSE"`
	Config  string `help:"Path to leaf.conf" env:"LEAF_CONFIG"`
}
