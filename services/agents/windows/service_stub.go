//go:build !windows

package windows

import "fmt"

// Run is a stub used when building the agent on non-Windows platforms.
func Run(string) error {
	return fmt.Errorf("the windows service wrapper is only supported on Windows; use sls-agent")
}
