package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ProjectDir string
	ConfigPath string
	LogLevel   string
	Color      string
}

// StartFlags Flag structs to decouple cobra from logic for testing.
type StartFlags struct {
	Live      bool
	SkipRedis bool
}

type StopFlags struct {
	All   bool
	Force bool
}

type RestartFlags struct {
	Live  bool
	Force bool
}

type StatusFlags struct {
	JSON bool
	// Remote server connection
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	Tail   int
	Follow bool
}

type RedisFlushFlags struct {
	Date string
}

type ServeFlags struct {
	Addr     string
	BasePath string
}

type HistoryFlags struct {
	Limit int
}

type InitFlags struct {
	Force bool
}
