package main

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags are the persistent flags of every command.
type GlobalFlags struct {
	ConfigPath string
	Team       string
}

type StopFlags struct {
	Force bool
}

type DaemonStartFlags struct {
	Mode          string
	Port          int
	Interval      int // seconds
	MetricsListen string
}

// DaemonRunFlags are the flags daemon-start passes to the hidden daemon-run.
type DaemonRunFlags struct {
	Mode          string
	Port          int
	Interval      int // seconds
	MetricsListen string
}
