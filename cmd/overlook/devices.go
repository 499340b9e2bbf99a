package main

import (
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// sysfsTorch drives a flash LED through its sysfs brightness file. An empty
// path disables the torch entirely.
type sysfsTorch struct {
	path   string
	logger *zap.Logger
}

func newTorch(path string, logger *zap.Logger) *sysfsTorch {
	return &sysfsTorch{path: path, logger: logger.Named("torch")}
}

func (t *sysfsTorch) On() error {
	return t.write("255")
}

func (t *sysfsTorch) Off() error {
	return t.write("0")
}

func (t *sysfsTorch) write(value string) error {
	if t.path == "" {
		t.logger.Debug("torch not configured, skipping", zap.String("value", value))
		return nil
	}
	return os.WriteFile(t.path, []byte(value), 0644)
}

// commandAlerter plays the person alert by running a configured command,
// such as "aplay alert.wav". An empty command only logs.
type commandAlerter struct {
	command string
	logger  *zap.Logger
}

func newAlerter(command string, logger *zap.Logger) *commandAlerter {
	return &commandAlerter{command: command, logger: logger.Named("alerter")}
}

func (a *commandAlerter) PlayPersonAlert() {
	if a.command == "" {
		a.logger.Info("person alert")
		return
	}
	parts := strings.Fields(a.command)
	cmd := exec.Command(parts[0], parts[1:]...)
	if err := cmd.Run(); err != nil {
		a.logger.Error("alert command failed", zap.Error(err))
	}
}
