// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	if err := LogContainer.SetLogFile(path); err != nil {
		t.Fatal(err)
	}
	defer LogContainer.file.attach(nil)
	defer LogContainer.SetLevel("info")

	l := LogContainer.GetLogger()
	l.Info("first", LogContainer.String("side", "rx"))
	if err := LogContainer.SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	l.Info("dropped")
	LogContainer.GetSimpleLogger().Warnf("second %d", 2)
	l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, `"msg":"first"`) || !strings.Contains(out, `"side":"rx"`) {
		t.Errorf("Expected the first entry with its field, got:\n%s", out)
	}
	if strings.Contains(out, "dropped") {
		t.Errorf("Entry below the level was written:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"second 2"`) {
		t.Errorf("Expected the sugared entry, got:\n%s", out)
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	if err := LogContainer.SetLevel("chatty"); err == nil {
		t.Errorf("Expected an unknown level to be rejected")
	}
}
