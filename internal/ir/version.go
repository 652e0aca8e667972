package ir

// Version constants for the IR and the dispatcher.
const (
	// IRVersion is the IR schema version. Bumped when canonical encoding changes.
	IRVersion = "1"

	// EngineVersion is the modcall engine version.
	EngineVersion = "0.1.0"
)
