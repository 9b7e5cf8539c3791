package config

// SimulatorConfig configures how the external atmosim process is launched.
type SimulatorConfig struct {
	// Binary is the simulator executable, resolved through PATH.
	Binary string `yaml:"binary" json:"binary,omitempty"`

	// WorkingDirectory is where the simulator runs.
	WorkingDirectory string `yaml:"working_directory" json:"working_directory,omitempty"`

	// ExtraArgs are appended after the compute request arguments.
	ExtraArgs []string `yaml:"extra_args,omitempty" json:"extra_args,omitempty"`

	// Timeout bounds a single run; the process is killed when it fires.
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// Environment variables passed through from the parent process.
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`

	// MaxTranscriptBytes caps the output kept for run history.
	MaxTranscriptBytes int64 `yaml:"max_transcript_bytes" json:"max_transcript_bytes,omitempty"`
}
