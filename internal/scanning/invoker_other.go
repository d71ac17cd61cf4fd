//go:build !unix

package scanning

import "os/exec"

// configureProcessGroup keeps exec's default behaviour of killing the child.
func configureProcessGroup(cmd *exec.Cmd) {}
