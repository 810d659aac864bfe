package detector

// Detector is a strategy that determines if the target process is running.
// Implementations may scan the process table by name or run a custom command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
