// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		in   string
		want PersonalityLevel
	}{
		{"machine", PersonalityMachine},
		{"q", PersonalityMachine},
		{"plain", PersonalityMachine},
		{"Minimal", PersonalityMinimal},
		{"standard", PersonalityStandard},
		{"full", PersonalityStandard},
		{"", PersonalityStandard},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParsePersonalityLevel(tt.in); got != tt.want {
				t.Errorf("ParsePersonalityLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectPersonality_NotTerminal(t *testing.T) {
	t.Setenv(EnvPersonality, "")
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got := DetectPersonality(f); got != PersonalityMachine {
		t.Errorf("DetectPersonality(file) = %q, want machine", got)
	}
	if IsTerminal(nil) {
		t.Error("IsTerminal(nil) = true")
	}
}

func TestDetectPersonality_EnvOverride(t *testing.T) {
	t.Setenv(EnvPersonality, "minimal")
	if got := DetectPersonality(nil); got != PersonalityMinimal {
		t.Errorf("DetectPersonality = %q, want minimal", got)
	}
}

func TestPrinter_MachineOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)
	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Table("Run Summary", []Field{{"Files", "12"}, {"Next init file id", "40"}})

	want := "OK: done\nWARN: careful\nrun_summary.files=12\nrun_summary.next_init_file_id=40\n"
	if got := buf.String(); got != want {
		t.Errorf("machine output:\n%q\nwant:\n%q", got, want)
	}
}

func TestPrinter_MinimalTableAligned(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)
	p.Table("", []Field{{"a", "1"}, {"long key", "2"}})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if lines[0] != "a         1" || lines[1] != "long key  2" {
		t.Errorf("unexpected table %q", lines)
	}
}

func TestPrinter_StandardContainsValues(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityStandard)
	p.Error("broken")
	p.Table("Ledger", []Field{{"Runs", "3"}})
	out := buf.String()
	for _, want := range []string{"broken", "Ledger", "Runs", "3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrinter_ProgressBar(t *testing.T) {
	if got := NewPrinter(nil, PersonalityMachine).ProgressBar(3, 4, 10); got != "3/4" {
		t.Errorf("machine progress = %q", got)
	}
	if got := NewPrinter(nil, PersonalityMinimal).ProgressBar(5, 0, 10); got != "5/0" {
		t.Errorf("zero total progress = %q", got)
	}
	if got := NewPrinter(nil, PersonalityStandard).ProgressBar(1, 2, 10); !strings.HasSuffix(got, " 50%") {
		t.Errorf("standard progress = %q", got)
	}
}
