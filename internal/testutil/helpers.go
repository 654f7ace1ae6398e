// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SampleDiff adds a hardcoded password and a division by zero to one file.
const SampleDiff = `diff --git a/app/billing.py b/app/billing.py
index 83db48f..bf269f4 100644
--- a/app/billing.py
+++ b/app/billing.py
@@ -1,2 +1,4 @@
 def monthly_rate(total):
-    return total / 12
+    password = "hunter2hunter2"
+    months = 0
+    return total / 0
`

// CleanDiff changes a docstring only.
const CleanDiff = `diff --git a/README.md b/README.md
index 1111111..2222222 100644
--- a/README.md
+++ b/README.md
@@ -1,1 +1,1 @@
-# Billing
+# Billing service
`

// TempFile creates a file with content under dir and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
