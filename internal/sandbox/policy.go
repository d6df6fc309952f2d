package sandbox

import "fmt"

// Policy is the degree of isolation a run gets. It is chosen once per run
// and never changes mid-run.
type Policy string

const (
	// PolicyHost runs directly on the host interpreter. Packages install
	// system-wide. Only for trusted, low-stakes scripts.
	PolicyHost Policy = "host"
	// PolicyHostVenv runs on the host inside an ephemeral virtualenv that
	// is deleted after the run.
	PolicyHostVenv Policy = "host-venv"
	// PolicyContainer runs inside the sandbox image with the script
	// directory mounted read-only. Package installs commit onto the
	// shared base image, visible to later container runs.
	PolicyContainer Policy = "container"
	// PolicyContainerVenv runs one ephemeral container that builds a
	// throwaway venv, installs packages into it, and executes the script.
	// The shared image is never mutated.
	PolicyContainerVenv Policy = "container-venv"
)

// ParsePolicy converts a config string into a Policy. The empty string
// maps to the default, PolicyHostVenv.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyHost, PolicyHostVenv, PolicyContainer, PolicyContainerVenv:
		return Policy(s), nil
	case "":
		return PolicyHostVenv, nil
	default:
		return "", fmt.Errorf("unknown isolation policy %q (want host, host-venv, container, or container-venv)", s)
	}
}

// Containerized reports whether the policy runs inside Docker.
func (p Policy) Containerized() bool {
	return p == PolicyContainer || p == PolicyContainerVenv
}

func (p Policy) String() string { return string(p) }
