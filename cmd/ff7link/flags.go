package main

import "time"

// APIFlags select the running instance that client commands talk to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
}

type WriteMessagesFlags struct {
	File string
}

type UpdateFlags struct {
	CheckOnly bool
}
