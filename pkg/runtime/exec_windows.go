package runtime

import "os/exec"

func killProcessGroup(*exec.Cmd) {}
