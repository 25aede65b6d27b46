package main

import (
	"testing"

	"dbmcp/cmd"
)

func TestVersion(t *testing.T) {
	if version != "dev" {
		t.Errorf("Expected default version to be 'dev', got %s", version)
	}
}

func TestVersionInjection(t *testing.T) {
	original := cmd.GetVersion()
	defer cmd.SetVersion(original)

	cmd.SetVersion("9.9.9")
	if cmd.GetVersion() != "9.9.9" {
		t.Errorf("Expected injected version 9.9.9, got %s", cmd.GetVersion())
	}
}
