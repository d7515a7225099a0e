// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeMachine, ParseMode("machine"))
	assert.Equal(t, ModeMachine, ParseMode("Plain"))
	assert.Equal(t, ModeRich, ParseMode("rich"))
	assert.Equal(t, ModeRich, ParseMode("sparkly"))
}

func TestDetectMode_Buffer(t *testing.T) {
	assert.Equal(t, ModeMachine, DetectMode(&bytes.Buffer{}))

	p := NewPrinter(&bytes.Buffer{}, "")
	assert.Equal(t, ModeMachine, p.Mode())
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("ignored")
	p.Success("built")
	p.Warning("slow")
	p.Error("broken")
	p.Field("nodes", 42)
	p.Table([]string{"rank", "name"}, [][]string{{"1", "Ada"}, {"2", "Ben"}})

	assert.Equal(t, "OK: built\nWARN: slow\nERROR: broken\nnodes\t42\nrank\tname\n1\tAda\n2\tBen\n", buf.String())
	assert.Equal(t, "3/4", p.ProgressBar(3, 4, 10))
}

func TestPrinter_Rich(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)

	p.Title("Atlas")
	p.Success("built")
	p.Field("nodes", 42)
	p.Table([]string{"rank", "name"}, [][]string{{"1", "Ada"}})

	out := buf.String()
	for _, want := range []string{"Atlas", "✓", "built", "nodes:", "42", "rank", "name", "Ada", "╭"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, p.ProgressBar(5, 10, 10), "50%")
	assert.Equal(t, "0/0", p.ProgressBar(0, 0, 10))
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}
